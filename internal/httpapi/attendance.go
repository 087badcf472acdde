package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"instaq/internal/apperr"
	"instaq/internal/attendance"
	"instaq/internal/auth"
)

const recordNotFound = "Attendance record"

// scan logs attendance from a QR code scan.
func (h *handlers) scan(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		h.fail(c, apperr.Invalid("body", "Request body could not be read"), recordNotFound)
		return
	}
	device := attendance.DeviceInfo{UserAgent: c.Request.UserAgent(), IPAddress: c.ClientIP()}
	rec, err := h.attendance.Create(c.Request.Context(), auth.PrincipalFrom(c), body, device)
	if err != nil {
		h.fail(c, err, recordNotFound)
		return
	}
	ok(c, http.StatusCreated, "Attendance logged successfully", gin.H{
		"attendance": rec,
		"summary":    rec.Summary(),
	})
}

func (h *handlers) list(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.Query("limit"))
	f := attendance.Filter{Date: c.Query("date"), Status: attendance.Status(c.Query("status"))}

	res, err := h.attendance.List(c.Request.Context(), auth.PrincipalFrom(c), f, page, limit)
	if err != nil {
		h.fail(c, err, recordNotFound)
		return
	}
	ok(c, http.StatusOK, "", res)
}

func (h *handlers) stats(c *gin.Context) {
	res, err := h.attendance.Stats(c.Request.Context(), auth.PrincipalFrom(c), attendance.Filter{Date: c.Query("date")})
	if err != nil {
		h.fail(c, err, recordNotFound)
		return
	}
	ok(c, http.StatusOK, "", res)
}

func (h *handlers) get(c *gin.Context) {
	rec, err := h.attendance.Get(c.Request.Context(), auth.PrincipalFrom(c), c.Param("id"))
	if err != nil {
		h.fail(c, err, recordNotFound)
		return
	}
	ok(c, http.StatusOK, "", rec)
}

type statusRequest struct {
	Status string          `json:"status"`
	Notes  json.RawMessage `json:"notes"`
}

func (h *handlers) updateStatus(c *gin.Context) {
	caller := auth.PrincipalFrom(c)
	// role first, so a denied caller learns nothing from body errors either
	if err := auth.Authorize(caller, auth.OpUpdateStatus); err != nil {
		h.fail(c, err, recordNotFound)
		return
	}

	var req statusRequest
	verr := &apperr.ValidationError{}
	if err := c.ShouldBindJSON(&req); err != nil {
		req = statusRequest{}
	}
	status := attendance.Status(req.Status)
	if !status.Valid() {
		verr.Add("status", "Invalid status")
	}
	var notes *string
	if len(req.Notes) > 0 && string(req.Notes) != "null" {
		var s string
		if err := json.Unmarshal(req.Notes, &s); err != nil {
			verr.Add("notes", "Notes must be a string")
		} else {
			notes = &s
		}
	}
	if err := verr.OrNil(); err != nil {
		h.fail(c, err, recordNotFound)
		return
	}

	rec, err := h.attendance.UpdateStatus(c.Request.Context(), caller, c.Param("id"), status, notes)
	if err != nil {
		h.fail(c, err, recordNotFound)
		return
	}
	ok(c, http.StatusOK, "Attendance status updated successfully", rec)
}

func (h *handlers) remove(c *gin.Context) {
	id := c.Param("id")
	if err := h.attendance.Delete(c.Request.Context(), auth.PrincipalFrom(c), id); err != nil {
		h.fail(c, err, recordNotFound)
		return
	}
	ok(c, http.StatusOK, "Attendance record deleted successfully", gin.H{"deletedId": id})
}
