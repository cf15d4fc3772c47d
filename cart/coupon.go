package cart

import (
	"context"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"storefront/utils"
)

type CouponRequest struct {
	Code string `json:"code"`
}

// ValidateCoupon previews a coupon against the caller's cart. The cart
// total is computed server-side; nothing is redeemed.
func (h *Handlers) ValidateCoupon(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	id, err := utils.RequireIdentity(r)
	if err != nil {
		utils.RespondWithError(w, err)
		return
	}
	var req CouponRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondWithError(w, err)
		return
	}
	res, err := h.svc.ValidateCoupon(ctx, id, req.Code)
	if err != nil {
		utils.RespondWithError(w, err)
		return
	}
	utils.RespondWithData(w, http.StatusOK, res)
}
