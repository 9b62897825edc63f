package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/corkline/wa-sales-backend/internal/http/middleware"
	"github.com/corkline/wa-sales-backend/internal/repo"
	"github.com/corkline/wa-sales-backend/internal/utils"
)

const (
	defaultPage     = 1
	defaultPageSize = 20
	maxPageSize     = 100
)

// ListConversations returns a page of conversations, most recently active
// first.
func (h *Handlers) ListConversations(c *gin.Context) {
	if h.DB == nil {
		fail(c, http.StatusServiceUnavailable, ErrCodeListFailed, "store unavailable")
		return
	}
	page, size := pageParams(c)

	total, err := repo.CountConversations(c.Request.Context(), h.DB)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, "could not count conversations")
		return
	}
	items, err := repo.ListConversationsPage(c.Request.Context(), h.DB, (page-1)*size, size)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, "could not list conversations")
		return
	}

	ok(c, http.StatusOK, gin.H{
		"page":      page,
		"page_size": size,
		"total":     total,
		"items":     items,
	})
}

// ListMessages returns a page of one conversation's messages in
// chronological order, decrypted.
func (h *Handlers) ListMessages(c *gin.Context) {
	if h.DB == nil {
		fail(c, http.StatusServiceUnavailable, ErrCodeListFailed, "store unavailable")
		return
	}
	id := c.Param("id")
	if id == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "missing conversation id")
		return
	}
	page, size := pageParams(c)

	if _, err := repo.GetConversation(c.Request.Context(), h.DB, id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "conversation not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, "could not load conversation")
		return
	}

	total, err := repo.CountMessages(c.Request.Context(), h.DB, id)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, "could not count messages")
		return
	}
	items, err := repo.ListMessagesPage(c.Request.Context(), h.DB, h.MsgCodec, id, (page-1)*size, size)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, "could not list messages")
		return
	}

	ok(c, http.StatusOK, gin.H{
		"page":      page,
		"page_size": size,
		"total":     total,
		"items":     items,
	})
}

// ReloadCatalog re-reads the catalog file and swaps it in place. The
// previous catalog stays in service when the file is broken.
func (h *Handlers) ReloadCatalog(c *gin.Context) {
	if h.CatalogPath == "" {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "no catalog file configured")
		return
	}
	if err := h.Catalog.Reload(h.CatalogPath); err != nil {
		middleware.LoggerFrom(c).Error().Err(err).Msg("catalog reload failed")
		fail(c, http.StatusInternalServerError, ErrCodeReloadFailed, "catalog reload failed")
		return
	}
	categories, products, imageCount := h.Catalog.Stats()
	ok(c, http.StatusOK, gin.H{
		"status":     "reloaded",
		"categories": categories,
		"products":   products,
		"images":     imageCount,
	})
}

func pageParams(c *gin.Context) (page, size int) {
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = defaultPage
	}
	size = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if size < 1 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	return page, size
}
