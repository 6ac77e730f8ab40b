package payment

import (
	"context"
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/RobertoN0/dds25--team4/pkg/response"
	"github.com/RobertoN0/dds25--team4/pkg/retry"
)

// Handler serves the direct payment endpoints.
type Handler struct {
	repo    *Repository
	retrier *retry.Retrier
}

// NewHandler creates a payment HTTP handler.
func NewHandler(repo *Repository, retryCfg *retry.Config) *Handler {
	return &Handler{
		repo:    repo,
		retrier: retry.New(retryCfg),
	}
}

// RegisterRoutes mounts the payment routes on the router.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	g := r.Group("/payment")
	g.POST("/create_user", h.CreateUser)
	g.GET("/find_user/:user_id", h.FindUser)
	g.POST("/add_funds/:user_id/:amount", h.AddFunds)
	g.POST("/pay/:user_id/:amount", h.Pay)
	g.POST("/batch_init/:n/:starting_money", h.BatchInit)
}

// CreateUser handles POST /payment/create_user
func (h *Handler) CreateUser(c *gin.Context) {
	id, err := h.repo.Create(c.Request.Context())
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Success(c, gin.H{"user_id": id})
}

// FindUser handles GET /payment/find_user/:user_id
func (h *Handler) FindUser(c *gin.Context) {
	userID := c.Param("user_id")
	u, err := h.repo.Get(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			response.NotFound(c, err.Error())
			return
		}
		response.InternalError(c, err)
		return
	}
	response.Success(c, gin.H{"user_id": userID, "credit": u.Credit})
}

// AddFunds handles POST /payment/add_funds/:user_id/:amount
func (h *Handler) AddFunds(c *gin.Context) {
	h.adjust(c, +1)
}

// Pay handles POST /payment/pay/:user_id/:amount
func (h *Handler) Pay(c *gin.Context) {
	h.adjust(c, -1)
}

func (h *Handler) adjust(c *gin.Context, sign int64) {
	amount, err := strconv.ParseInt(c.Param("amount"), 10, 64)
	if err != nil || amount < 0 {
		response.BadRequest(c, "invalid amount")
		return
	}
	userID := c.Param("user_id")

	var credit int64
	err = h.retrier.Do(c.Request.Context(), func(ctx context.Context) error {
		var err error
		credit, err = h.repo.Adjust(ctx, userID, sign*amount)
		if errors.Is(err, ErrInsufficientFunds) || errors.Is(err, ErrUserNotFound) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInsufficientFunds):
			response.BadRequest(c, err.Error())
		case errors.Is(err, ErrUserNotFound):
			response.NotFound(c, err.Error())
		default:
			response.InternalError(c, err)
		}
		return
	}
	response.Success(c, gin.H{"user_id": userID, "credit": credit})
}

// BatchInit handles POST /payment/batch_init/:n/:starting_money
func (h *Handler) BatchInit(c *gin.Context) {
	n, err1 := strconv.Atoi(c.Param("n"))
	startingMoney, err2 := strconv.ParseInt(c.Param("starting_money"), 10, 64)
	if err1 != nil || err2 != nil || n < 0 || startingMoney < 0 {
		response.BadRequest(c, "invalid batch parameters")
		return
	}

	if err := h.repo.BatchInit(c.Request.Context(), n, startingMoney); err != nil {
		response.InternalError(c, err)
		return
	}
	response.Success(c, gin.H{"msg": "Batch init for users successful"})
}
