package order

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/RobertoN0/dds25--team4/pkg/event"
	"github.com/RobertoN0/dds25--team4/pkg/response"
)

// Handler serves the order endpoints, delegating the distributed
// operations to the bridge.
type Handler struct {
	repo   *Repository
	bridge *Bridge
}

// NewHandler creates an order HTTP handler.
func NewHandler(repo *Repository, bridge *Bridge) *Handler {
	return &Handler{repo: repo, bridge: bridge}
}

// RegisterRoutes mounts the order routes on the router.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	g := r.Group("/orders")
	g.POST("/create/:user_id", h.CreateOrder)
	g.GET("/find/:order_id", h.FindOrder)
	g.POST("/batch_init/:n/:n_items/:n_users/:item_price", h.BatchInit)
	g.POST("/addItem/:order_id/:item_id/:quantity", h.AddItem)
	g.POST("/checkout/:order_id", h.Checkout)
}

// CreateOrder handles POST /orders/create/:user_id
func (h *Handler) CreateOrder(c *gin.Context) {
	id, err := h.repo.Create(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Success(c, gin.H{"order_id": id})
}

// FindOrder handles GET /orders/find/:order_id
func (h *Handler) FindOrder(c *gin.Context) {
	orderID := c.Param("order_id")
	o, err := h.repo.Get(c.Request.Context(), orderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			response.NotFound(c, err.Error())
			return
		}
		response.InternalError(c, err)
		return
	}
	response.Success(c, gin.H{
		"order_id":   orderID,
		"paid":       o.Paid,
		"items":      o.Items,
		"user_id":    o.UserID,
		"total_cost": o.TotalCost,
	})
}

// BatchInit handles POST /orders/batch_init/:n/:n_items/:n_users/:item_price
func (h *Handler) BatchInit(c *gin.Context) {
	n, err1 := strconv.Atoi(c.Param("n"))
	nItems, err2 := strconv.Atoi(c.Param("n_items"))
	nUsers, err3 := strconv.Atoi(c.Param("n_users"))
	price, err4 := strconv.ParseInt(c.Param("item_price"), 10, 64)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil ||
		n < 0 || nItems <= 0 || nUsers <= 0 || price < 0 {
		response.BadRequest(c, "invalid batch parameters")
		return
	}

	if err := h.repo.BatchInit(c.Request.Context(), n, nItems, nUsers, price); err != nil {
		response.InternalError(c, err)
		return
	}
	response.Success(c, gin.H{"msg": "Batch init for orders successful"})
}

// AddItem handles POST /orders/addItem/:order_id/:item_id/:quantity
func (h *Handler) AddItem(c *gin.Context) {
	quantity, err := strconv.ParseInt(c.Param("quantity"), 10, 64)
	if err != nil || quantity <= 0 {
		response.BadRequest(c, "invalid quantity")
		return
	}

	outcome, err := h.bridge.AddItem(c.Request.Context(), c.Param("order_id"), c.Param("item_id"), quantity)
	if err != nil {
		h.bridgeError(c, err)
		return
	}

	switch outcome.Type {
	case event.TypeItemFound:
		response.Success(c, gin.H{
			"item_id":    outcome.ItemID,
			"quantity":   outcome.Quantity,
			"total_cost": outcome.TotalCost,
		})
	case event.TypeItemNotFound:
		response.BadRequest(c, "item not found")
	default:
		response.InternalError(c, errors.New("unexpected outcome "+outcome.Type))
	}
}

// Checkout handles POST /orders/checkout/:order_id
func (h *Handler) Checkout(c *gin.Context) {
	outcome, err := h.bridge.Checkout(c.Request.Context(), c.Param("order_id"))
	if err != nil {
		h.bridgeError(c, err)
		return
	}

	switch outcome.Type {
	case event.TypeCheckoutSuccess:
		response.Success(c, gin.H{"msg": "Checkout successful"})
	case event.TypeCheckoutFailed:
		response.BadRequest(c, outcome.Error)
	default:
		response.InternalError(c, errors.New("unexpected outcome "+outcome.Type))
	}
}

func (h *Handler) bridgeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrOrderNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, ErrTimeout):
		response.Timeout(c, err.Error())
	default:
		response.InternalError(c, err)
	}
}
