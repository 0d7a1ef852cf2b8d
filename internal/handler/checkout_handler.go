package handler

import (
	"net/http"

	"ec-checkout/internal/config"
	"ec-checkout/internal/middleware"
	"ec-checkout/internal/usecase"

	"github.com/labstack/echo/v4"
)

// /checkoutのHTTP
type CheckoutHandler struct {
	uc *usecase.CheckoutUsecase
}

// DI
func NewCheckoutHandler(uc *usecase.CheckoutUsecase) *CheckoutHandler {
	return &CheckoutHandler{uc: uc}
}

type CreateCheckoutRequest struct {
	Provider    string `json:"provider"`
	PhoneNumber string `json:"phoneNumber"`
	MNO         string `json:"mno"`
	CouponCode  string `json:"couponCode"`
}

// /checkout, /checkout/{id} を登録
func (h *CheckoutHandler) RegisterRoutes(e *echo.Echo, cfg config.Config) {
	g := e.Group("/checkout")
	g.Use(middleware.AuthJWT(cfg))

	g.POST("", h.create)
	g.GET("/:id", h.get)
}

// トークン不正はAuthJWTが401で返す。ここでuser_idが無ければ0のままUsecaseの400に任せる
func (h *CheckoutHandler) create(c echo.Context) error {
	userID, _ := getUserIDFromContext(c)

	var req CreateCheckoutRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}

	out, err := h.uc.CreateCheckoutSession(c.Request().Context(), userID, usecase.CreateCheckoutInput{
		Provider:    req.Provider,
		PhoneNumber: req.PhoneNumber,
		MNO:         req.MNO,
		CouponCode:  req.CouponCode,
	})
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, out)
}

func (h *CheckoutHandler) get(c echo.Context) error {
	userID, _ := getUserIDFromContext(c)

	out, err := h.uc.GetCheckoutSession(c.Request().Context(), userID, c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, out)
}
