package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-payment-reconciler/internal/ledger"
	"github.com/imrishuroy/go-payment-reconciler/internal/validation"
)

const defaultPageSize = 100

// HandlerConfig groups dependencies for the ledger handlers.
type HandlerConfig struct {
	Store ledger.Store
}

type listOrdersResponse struct {
	Orders []ledger.Record `json:"orders"`
	// Next is the cursor for the following page, empty on the last one.
	Next string `json:"next,omitempty"`
}

// RegisterOrdersRoutes registers the read-only ledger routes.
func RegisterOrdersRoutes(r *gin.Engine, cfg HandlerConfig) {
	v := validation.New()

	r.GET("/summary", func(c *gin.Context) {
		records, err := cfg.Store.LoadAll(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ledger_unavailable", "detail": err.Error()})
			return
		}
		c.JSON(http.StatusOK, ledger.Summarize(records, nil))
	})

	r.GET("/orders", func(c *gin.Context) {
		var q validation.ListOrdersQuery
		if err := validation.BindQueryAndValidate(c, &q, v); err != nil {
			// BindQueryAndValidate already wrote a 400
			return
		}
		limit := q.Limit
		if limit == 0 {
			limit = defaultPageSize
		}

		records, err := cfg.Store.LoadAll(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ledger_unavailable", "detail": err.Error()})
			return
		}

		var status ledger.Status
		if q.Status != "" {
			// already validated
			status, _ = ledger.ParseStatus(q.Status)
		}

		resp := listOrdersResponse{Orders: []ledger.Record{}}
		for _, rec := range ledger.Filter(records, status) {
			if q.After != "" && rec.OrderID <= q.After {
				continue
			}
			if len(resp.Orders) == limit {
				resp.Next = resp.Orders[limit-1].OrderID
				break
			}
			resp.Orders = append(resp.Orders, rec)
		}
		c.JSON(http.StatusOK, resp)
	})

	r.GET("/orders/:id", func(c *gin.Context) {
		rec, err := ledger.Lookup(c.Request.Context(), cfg.Store, c.Param("id"))
		if errors.Is(err, ledger.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "order_id": c.Param("id")})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ledger_unavailable", "detail": err.Error()})
			return
		}
		c.JSON(http.StatusOK, rec)
	})
}
