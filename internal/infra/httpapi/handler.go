package httpapi

import (
	"errors"
	"net/http"
	"sort"
	"time"

	"workflow_digest/internal/app"
	"workflow_digest/internal/domain/notification"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Handler serves the admin endpoints.
type Handler struct {
	admin  *app.AdminService
	logger *logrus.Entry
}

func NewHandler(admin *app.AdminService, logger *logrus.Entry) *Handler {
	return &Handler{admin: admin, logger: logger.WithField("component", "admin_handler")}
}

type commentRequest struct {
	ObjectKind       string `json:"object_kind" binding:"required"`
	ObjectID         int64  `json:"object_id" binding:"required"`
	SendNotification *bool  `json:"send_notification"`
}

type failureResponse struct {
	Address string `json:"address"`
	Reason  string `json:"reason"`
}

type dispatchResponse struct {
	Day      string            `json:"day"`
	Sent     int               `json:"sent"`
	Failed   int               `json:"failed"`
	Skipped  bool              `json:"skipped"`
	Failures []failureResponse `json:"failures,omitempty"`
}

type classifyResponse struct {
	ReferenceDate string `json:"reference_date"`
	Created       int    `json:"created"`
	Skipped       int    `json:"skipped"`
	Checkpoint    string `json:"checkpoint,omitempty"`
}

type runResponse struct {
	RunID    string            `json:"run_id"`
	Classify *classifyResponse `json:"classify,omitempty"`
	Dispatch *dispatchResponse `json:"dispatch,omitempty"`
}

type pendingGroup struct {
	Type     notification.TypeName `json:"type"`
	EventIDs []int64               `json:"event_ids"`
}

// RunDigest handles POST /admin/digest/run[?date=YYYY-MM-DD].
func (h *Handler) RunDigest(c *gin.Context) {
	var ref *time.Time
	if q := c.Query("date"); q != "" {
		d, err := time.ParseInLocation(time.DateOnly, q, time.UTC)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
			return
		}
		ref = &d
	}

	report, err := h.admin.TriggerRun(c.Request.Context(), c.GetString(adminTokenKey), ref)
	if err != nil {
		h.fail(c, "Digest run failed", err)
		return
	}
	resp := runResponse{RunID: report.RunID, Dispatch: toDispatchResponse(report.Dispatch)}
	if report.Classify != nil {
		resp.Classify = &classifyResponse{
			ReferenceDate: report.Classify.ReferenceDate.Format(time.DateOnly),
			Created:       report.Classify.Created,
			Skipped:       report.Classify.Skipped,
		}
		if !report.Classify.Checkpoint.IsEmpty() {
			resp.Classify.Checkpoint = report.Classify.Checkpoint.LastDate.Format(time.DateOnly)
		}
	}
	c.JSON(http.StatusOK, resp)
}

// Dispatch handles POST /admin/digest/dispatch.
func (h *Handler) Dispatch(c *gin.Context) {
	report, err := h.admin.TriggerDispatch(c.Request.Context(), c.GetString(adminTokenKey))
	if errors.Is(err, notification.ErrDispatchInProgress) {
		c.JSON(http.StatusConflict, toDispatchResponse(report))
		return
	}
	if err != nil {
		h.fail(c, "Dispatch failed", err)
		return
	}
	c.JSON(http.StatusOK, toDispatchResponse(report))
}

// Pending handles GET /admin/digest/pending[?address=...]. Without an address
// it returns counts per recipient and type.
func (h *Handler) Pending(c *gin.Context) {
	token := c.GetString(adminTokenKey)
	if address := c.Query("address"); address != "" {
		d, err := h.admin.PendingDigest(c.Request.Context(), token, address)
		if err != nil {
			h.fail(c, "Pending digest lookup failed", err)
			return
		}
		groups := []pendingGroup{}
		if d != nil {
			for _, g := range d.Groups {
				ids := make([]int64, 0, len(g.Events))
				for _, ev := range g.Events {
					ids = append(ids, ev.ID)
				}
				groups = append(groups, pendingGroup{Type: g.Type, EventIDs: ids})
			}
		}
		c.JSON(http.StatusOK, gin.H{"address": address, "groups": groups})
		return
	}

	counts, err := h.admin.PendingSummary(c.Request.Context(), token)
	if err != nil {
		h.fail(c, "Pending summary failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"recipients": counts, "pending_entries": totalEvents(counts)})
}

// RecordComment handles POST /admin/comments.
func (h *Handler) RecordComment(c *gin.Context) {
	var req commentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}
	send := req.SendNotification == nil || *req.SendNotification
	object := notification.ObjectRef{Kind: notification.ObjectKind(req.ObjectKind), ID: req.ObjectID}

	if err := h.admin.RecordComment(c.Request.Context(), c.GetString(adminTokenKey), object, send); err != nil {
		h.fail(c, "Failed to record comment", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"object": object.String(), "queued": send})
}

// Reset handles POST /admin/notifications/reset.
func (h *Handler) Reset(c *gin.Context) {
	if err := h.admin.ResetLedger(c.Request.Context(), c.GetString(adminTokenKey)); err != nil {
		h.fail(c, "Ledger reset failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "notification ledger reset"})
}

func (h *Handler) fail(c *gin.Context, msg string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, app.ErrAdminNotAuthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, app.ErrInvalidObject), errors.Is(err, notification.ErrInvalidReferenceDate):
		status = http.StatusBadRequest
	case errors.Is(err, notification.ErrObjectNotFound):
		status = http.StatusNotFound
	}
	if status == http.StatusInternalServerError {
		h.logger.WithError(err).Error(msg)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func toDispatchResponse(r *app.DispatchReport) *dispatchResponse {
	if r == nil {
		return nil
	}
	resp := &dispatchResponse{Sent: r.Sent, Failed: r.Failed, Skipped: r.Skipped}
	if !r.Day.IsZero() {
		resp.Day = r.Day.Format(time.DateOnly)
	}
	for _, o := range r.Outcomes {
		if o.Sent() {
			continue
		}
		reason := o.Err.Error()
		var se *notification.SendError
		if errors.As(o.Err, &se) {
			reason = se.Reason
		}
		resp.Failures = append(resp.Failures, failureResponse{Address: o.Address, Reason: reason})
	}
	sort.Slice(resp.Failures, func(i, j int) bool { return resp.Failures[i].Address < resp.Failures[j].Address })
	return resp
}

func totalEvents(counts map[string]map[notification.TypeName]int) int {
	total := 0
	for _, byType := range counts {
		for _, n := range byType {
			total += n
		}
	}
	return total
}
