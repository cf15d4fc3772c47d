package orders

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"

	"storefront/apperr"
	"storefront/models"
	"storefront/utils"
)

type Handlers struct {
	builder *Builder
	svc     *Service
}

func NewHandlers(builder *Builder, svc *Service) *Handlers {
	return &Handlers{builder: builder, svc: svc}
}

// CreateOrder converts the caller's cart into an order.
func (h *Handlers) CreateOrder(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	id, err := utils.RequireIdentity(r)
	if err != nil {
		utils.RespondWithError(w, err)
		return
	}
	var in CreateOrderInput
	if err := utils.DecodeJSON(r, &in); err != nil {
		utils.RespondWithError(w, err)
		return
	}
	res, err := h.builder.Create(ctx, id, in)
	if err != nil {
		utils.RespondWithError(w, err)
		return
	}
	utils.RespondWithData(w, http.StatusCreated, res)
}

func (h *Handlers) ListOrders(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	id, err := utils.RequireIdentity(r)
	if err != nil {
		utils.RespondWithError(w, err)
		return
	}
	list, err := h.svc.List(r.Context(), id)
	if err != nil {
		utils.RespondWithError(w, err)
		return
	}
	utils.RespondWithData(w, http.StatusOK, list)
}

func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := utils.RequireIdentity(r)
	if err != nil {
		utils.RespondWithError(w, err)
		return
	}
	o, err := h.svc.Get(r.Context(), id, ps.ByName("id"))
	if err != nil {
		utils.RespondWithError(w, err)
		return
	}
	utils.RespondWithData(w, http.StatusOK, o)
}

// GetInvoice streams the order's PDF invoice.
func (h *Handlers) GetInvoice(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := utils.RequireIdentity(r)
	if err != nil {
		utils.RespondWithError(w, err)
		return
	}
	o, err := h.svc.Get(r.Context(), id, ps.ByName("id"))
	if err != nil {
		utils.RespondWithError(w, err)
		return
	}
	pdf, err := RenderInvoice(o)
	if err != nil {
		utils.RespondWithError(w, apperr.Wrap(apperr.KindInternal, err, "failed to generate invoice"))
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", "attachment; filename="+utils.SanitizeFilename("invoice-"+o.OrderNumber+".pdf"))
	w.Header().Set("Content-Length", strconv.Itoa(len(pdf)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}

// UpdateStatus is the admin fulfillment endpoint.
func (h *Handlers) UpdateStatus(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := utils.RequireIdentity(r)
	if err != nil {
		utils.RespondWithError(w, err)
		return
	}
	var payload struct {
		Status models.OrderStatus `json:"status"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondWithError(w, err)
		return
	}
	o, err := h.svc.UpdateStatus(r.Context(), id, ps.ByName("id"), payload.Status)
	if err != nil {
		utils.RespondWithError(w, err)
		return
	}
	utils.RespondWithData(w, http.StatusOK, o)
}
