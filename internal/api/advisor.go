package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"classledger/internal/advisor"
	"classledger/internal/auth"
	"classledger/internal/roster"
)

type assignBody struct {
	classFields
	FacultyID string `json:"faculty_id" binding:"required"`
	Notes     string `json:"notes" binding:"max=500"`
}

func (h *handler) assign(c *gin.Context) {
	var body assignBody
	if !h.bind(c, &body) {
		return
	}
	a, _ := auth.ActorFrom(c)
	res, err := h.adv.Assign(c.Request.Context(), advisor.AssignRequest{
		Tuple:     roster.Tuple{Class: body.class(), Department: body.Department},
		FacultyID: body.FacultyID,
		Notes:     body.Notes,
		Actor:     a,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	status := http.StatusCreated
	if res.Unchanged {
		status = http.StatusOK
	}
	c.JSON(status, res)
}

func (h *handler) deactivate(c *gin.Context) {
	a, _ := auth.ActorFrom(c)
	out, err := h.adv.Deactivate(c.Request.Context(), c.Param("id"), a)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *handler) remove(c *gin.Context) {
	a, _ := auth.ActorFrom(c)
	out, err := h.adv.Remove(c.Request.Context(), c.Param("id"), a)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

type listQuery struct {
	FacultyID  string `form:"faculty_id"`
	Department string `form:"department"`
	ClassKey   string `form:"class_key"`
	ActiveOnly bool   `form:"active_only"`
}

func (h *handler) listAdvisors(c *gin.Context) {
	var q listQuery
	if !h.bindQuery(c, &q) {
		return
	}
	a, _ := auth.ActorFrom(c)
	out, err := h.adv.List(c.Request.Context(), advisor.Filter{
		FacultyID:  q.FacultyID,
		Department: q.Department,
		ClassKey:   q.ClassKey,
		ActiveOnly: q.ActiveOnly,
	}, a)
	if err != nil {
		h.fail(c, err)
		return
	}
	if out == nil {
		out = []advisor.Assignment{}
	}
	c.JSON(http.StatusOK, gin.H{"assignments": out})
}

func (h *handler) facultyCache(c *gin.Context) {
	a, _ := auth.ActorFrom(c)
	entries, err := h.adv.FacultyCache(c.Request.Context(), c.Param("id"), a)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"faculty_id": c.Param("id"), "assignments": entries})
}

func (h *handler) rebuildCache(c *gin.Context) {
	a, _ := auth.ActorFrom(c)
	entries, err := h.adv.RebuildCache(c.Request.Context(), c.Param("id"), a)
	if err != nil {
		h.fail(c, err)
		return
	}
	if entries == nil {
		entries = []advisor.CacheEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"faculty_id": c.Param("id"), "assignments": entries})
}
