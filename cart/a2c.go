package cart

import (
	"context"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	"storefront/utils"
)

const requestTimeout = 10 * time.Second

// Handlers exposes the cart service over HTTP.
type Handlers struct {
	svc *Service
}

func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// AddToCart adds a variation or raises the quantity of an existing line.
func (h *Handlers) AddToCart(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	id, err := utils.RequireIdentity(r)
	if err != nil {
		utils.RespondWithError(w, err)
		return
	}
	var in AddItemInput
	if err := utils.DecodeJSON(r, &in); err != nil {
		utils.RespondWithError(w, err)
		return
	}
	c, err := h.svc.Add(ctx, id, in)
	if err != nil {
		utils.RespondWithError(w, err)
		return
	}
	utils.RespondWithData(w, http.StatusCreated, c)
}

// GetCart returns the caller's cart.
func (h *Handlers) GetCart(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	id, err := utils.RequireIdentity(r)
	if err != nil {
		utils.RespondWithError(w, err)
		return
	}
	c, err := h.svc.Get(ctx, id)
	if err != nil {
		utils.RespondWithError(w, err)
		return
	}
	utils.RespondWithData(w, http.StatusOK, c)
}

// UpdateCartItem sets the quantity of one line.
func (h *Handlers) UpdateCartItem(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	id, err := utils.RequireIdentity(r)
	if err != nil {
		utils.RespondWithError(w, err)
		return
	}
	var payload struct {
		Quantity int `json:"quantity"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondWithError(w, err)
		return
	}
	c, err := h.svc.UpdateQuantity(ctx, id, ps.ByName("variationId"), payload.Quantity)
	if err != nil {
		utils.RespondWithError(w, err)
		return
	}
	utils.RespondWithData(w, http.StatusOK, c)
}

func (h *Handlers) RemoveCartItem(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	id, err := utils.RequireIdentity(r)
	if err != nil {
		utils.RespondWithError(w, err)
		return
	}
	c, err := h.svc.Remove(ctx, id, ps.ByName("variationId"))
	if err != nil {
		utils.RespondWithError(w, err)
		return
	}
	utils.RespondWithData(w, http.StatusOK, c)
}
