package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log/slog"
	"os"
	"time"

	"instaq/internal/apperr"
	"instaq/internal/attendance"
	"instaq/internal/auth"
	"instaq/internal/config"
	"instaq/internal/logging"
	"instaq/internal/store"
	"instaq/internal/users"
)

// Seed loads a development dataset: one admin, one staff account and a
// sample family scan.
func main() {
	reset := flag.Bool("reset", false, "delete all rows before seeding")
	flag.Parse()

	cfg := config.Load()
	logger := logging.New(cfg.Env, cfg.LogLevel).With("component", "seed")
	if err := run(cfg, *reset, logger); err != nil {
		logger.Error("seed failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.App, reset bool, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := store.NewDB(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return err
	}
	if reset {
		if err := db.Reset(ctx); err != nil {
			return err
		}
		logger.Info("existing data cleared")
	}

	userSvc := users.NewService(users.NewRepository(db), users.TokenConfig{
		SigningKey: cfg.JWTSigningKey,
		Issuer:     cfg.JWTIssuer,
	}, nil, logger)

	accounts := []users.RegisterInput{
		{Name: "Admin User", Email: "admin@instaq.com", Password: "admin123", Phone: "+1234567890", Role: auth.RoleAdmin},
		{Name: "Staff User", Email: "staff@instaq.com", Password: "staff123", Phone: "+1234567891", Role: auth.RoleStaff},
	}
	var admin *users.User
	for _, in := range accounts {
		u, err := userSvc.Create(ctx, in)
		if errors.Is(err, apperr.ErrConflict) {
			logger.Info("user already exists", "email", in.Email)
			continue
		}
		if err != nil {
			return err
		}
		logger.Info("user created", "email", u.Email, "role", u.Role)
		if u.Role == auth.RoleAdmin {
			admin = &u
		}
	}
	if admin == nil {
		logger.Info("sample attendance skipped, run with -reset to recreate it")
		return nil
	}

	attSvc := attendance.NewService(attendance.NewRepository(db), attendance.Options{Directory: userSvc, Logger: logger})
	body, err := json.Marshal(map[string]any{
		"qrCodeData": attendance.QRCodeData{
			Type: "attendance",
			Date: time.Now().Format("2006-01-02"),
			Time: time.Now().Format("15:04"),
			FamilyMembers: []attendance.FamilyMember{
				{Name: "John Doe", Age: 35, Phone: "+1234567892"},
				{Name: "Jane Doe", Age: 32, Phone: "+1234567893"},
				{Name: "Baby Doe", Age: 5, IsChild: true},
			},
		},
		"notes": "Sample attendance record",
	})
	if err != nil {
		return err
	}
	principal := admin.Principal()
	rec, err := attSvc.Create(ctx, &principal, body, attendance.DeviceInfo{UserAgent: "seed", IPAddress: "127.0.0.1"})
	if err != nil {
		return err
	}
	logger.Info("sample attendance created", "record_id", rec.ID, "members", rec.TotalMembers())
	return nil
}
