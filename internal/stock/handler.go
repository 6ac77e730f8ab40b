package stock

import (
	"context"
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/RobertoN0/dds25--team4/pkg/response"
	"github.com/RobertoN0/dds25--team4/pkg/retry"
)

// Handler serves the direct stock endpoints.
type Handler struct {
	repo    *Repository
	retrier *retry.Retrier
}

// NewHandler creates a stock HTTP handler.
func NewHandler(repo *Repository, retryCfg *retry.Config) *Handler {
	return &Handler{
		repo:    repo,
		retrier: retry.New(retryCfg),
	}
}

// RegisterRoutes mounts the stock routes on the router.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	g := r.Group("/stock")
	g.POST("/item/create/:price", h.CreateItem)
	g.GET("/find/:item_id", h.FindItem)
	g.POST("/add/:item_id/:amount", h.AddStock)
	g.POST("/subtract/:item_id/:amount", h.SubtractStock)
	g.POST("/batch_init/:n/:starting_stock/:item_price", h.BatchInit)
}

// CreateItem handles POST /stock/item/create/:price
func (h *Handler) CreateItem(c *gin.Context) {
	price, err := strconv.ParseInt(c.Param("price"), 10, 64)
	if err != nil || price < 0 {
		response.BadRequest(c, "invalid price")
		return
	}

	id, err := h.repo.Create(c.Request.Context(), price)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Success(c, gin.H{"item_id": id})
}

// FindItem handles GET /stock/find/:item_id
func (h *Handler) FindItem(c *gin.Context) {
	it, err := h.repo.Get(c.Request.Context(), c.Param("item_id"))
	if err != nil {
		if errors.Is(err, ErrItemNotFound) {
			response.NotFound(c, err.Error())
			return
		}
		response.InternalError(c, err)
		return
	}
	response.Success(c, gin.H{"stock": it.Stock, "price": it.Price})
}

// AddStock handles POST /stock/add/:item_id/:amount
func (h *Handler) AddStock(c *gin.Context) {
	h.adjust(c, +1)
}

// SubtractStock handles POST /stock/subtract/:item_id/:amount
func (h *Handler) SubtractStock(c *gin.Context) {
	h.adjust(c, -1)
}

func (h *Handler) adjust(c *gin.Context, sign int64) {
	amount, err := strconv.ParseInt(c.Param("amount"), 10, 64)
	if err != nil || amount < 0 {
		response.BadRequest(c, "invalid amount")
		return
	}
	itemID := c.Param("item_id")

	err = h.retrier.Do(c.Request.Context(), func(ctx context.Context) error {
		err := h.repo.Adjust(ctx, itemID, sign*amount)
		if errors.Is(err, ErrInsufficientStock) || errors.Is(err, ErrItemNotFound) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInsufficientStock):
			response.BadRequest(c, err.Error())
		case errors.Is(err, ErrItemNotFound):
			response.NotFound(c, err.Error())
		default:
			response.InternalError(c, err)
		}
		return
	}
	response.Success(c, gin.H{"item_id": itemID})
}

// BatchInit handles POST /stock/batch_init/:n/:starting_stock/:item_price
func (h *Handler) BatchInit(c *gin.Context) {
	n, err1 := strconv.Atoi(c.Param("n"))
	startingStock, err2 := strconv.ParseInt(c.Param("starting_stock"), 10, 64)
	price, err3 := strconv.ParseInt(c.Param("item_price"), 10, 64)
	if err1 != nil || err2 != nil || err3 != nil || n < 0 || startingStock < 0 || price < 0 {
		response.BadRequest(c, "invalid batch parameters")
		return
	}

	if err := h.repo.BatchInit(c.Request.Context(), n, startingStock, price); err != nil {
		response.InternalError(c, err)
		return
	}
	response.Success(c, gin.H{"msg": "Batch init for stock successful"})
}
