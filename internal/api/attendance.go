package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"classledger/internal/attendance"
	"classledger/internal/auth"
	"classledger/internal/roster"
)

// classFields is the class + department selector shared by staff requests.
type classFields struct {
	Department string `json:"department" form:"department" binding:"required"`
	Batch      string `json:"batch" form:"batch" binding:"required"`
	Level      string `json:"level" form:"level" binding:"required"`
	Term       string `json:"term" form:"term" binding:"required"`
	Section    string `json:"section" form:"section" binding:"required"`
}

func (f classFields) class() roster.Class {
	return roster.Class{Batch: f.Batch, Level: f.Level, Term: f.Term, Section: f.Section}
}

type markBody struct {
	classFields
	Day       string   `json:"day"`
	Absentees []string `json:"absentees"`
}

func (h *handler) mark(c *gin.Context) {
	h.write(c, h.att.Mark, http.StatusCreated)
}

func (h *handler) edit(c *gin.Context) {
	h.write(c, h.att.Edit, http.StatusOK)
}

func (h *handler) write(c *gin.Context, op func(ctx context.Context, req attendance.MarkRequest) (attendance.MarkResult, error), okStatus int) {
	var body markBody
	if !h.bind(c, &body) {
		return
	}
	a, _ := auth.ActorFrom(c)
	res, err := op(c.Request.Context(), attendance.MarkRequest{
		Class:      body.class(),
		Department: body.Department,
		Day:        body.Day,
		Absentees:  body.Absentees,
		Actor:      a,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(okStatus, res)
}

type historyQuery struct {
	classFields
	Day string `form:"day"`
}

func (h *handler) history(c *gin.Context) {
	var q historyQuery
	if !h.bindQuery(c, &q) {
		return
	}
	a, _ := auth.ActorFrom(c)
	out, err := h.att.History(c.Request.Context(), attendance.HistoryRequest{
		Class:      q.class(),
		Department: q.Department,
		Day:        q.Day,
		Actor:      a,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

type summaryQuery struct {
	classFields
	From string `form:"from"`
	To   string `form:"to"`
}

func (h *handler) summary(c *gin.Context) {
	var q summaryQuery
	if !h.bindQuery(c, &q) {
		return
	}
	a, _ := auth.ActorFrom(c)
	days, err := h.att.Summary(c.Request.Context(), attendance.SummaryRequest{
		Class:      q.class(),
		Department: q.Department,
		From:       q.From,
		To:         q.To,
		Actor:      a,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"days": days})
}

type actionBody struct {
	classFields
	Day         string `json:"day"`
	RollNo      string `json:"roll_no" binding:"required"`
	ActionTaken string `json:"action_taken"`
}

func (h *handler) action(c *gin.Context) {
	var body actionBody
	if !h.bind(c, &body) {
		return
	}
	a, _ := auth.ActorFrom(c)
	rec, err := h.att.RecordAction(c.Request.Context(), attendance.ActionRequest{
		Class:       body.class(),
		Department:  body.Department,
		Day:         body.Day,
		RollNo:      body.RollNo,
		ActionTaken: body.ActionTaken,
		Actor:       a,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

type reasonBody struct {
	Day      string `json:"day"`
	ClassKey string `json:"class_key"`
	Reason   string `json:"reason" binding:"required"`
}

func (h *handler) reason(c *gin.Context) {
	var body reasonBody
	if !h.bind(c, &body) {
		return
	}
	a, _ := auth.ActorFrom(c)
	rec, err := h.att.SubmitReason(c.Request.Context(), attendance.ReasonRequest{
		Actor:    a,
		Day:      body.Day,
		ClassKey: body.ClassKey,
		Reason:   body.Reason,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *handler) myAttendance(c *gin.Context) {
	a, _ := auth.ActorFrom(c)
	recs, err := h.att.StudentHistory(c.Request.Context(), a, a.ID, c.Query("from"), c.Query("to"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if recs == nil {
		recs = []attendance.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"records": recs})
}
