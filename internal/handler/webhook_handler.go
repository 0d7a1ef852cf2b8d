package handler

import (
	"io"
	"net/http"

	"ec-checkout/internal/provider"
	"ec-checkout/internal/usecase"

	"github.com/labstack/echo/v4"
)

const maxWebhookBody = 1 << 20

// /webhooks/:provider（認証なし。署名で検証する）
type WebhookHandler struct {
	uc        *usecase.WebhookUsecase
	providers *provider.Registry
}

// DI
func NewWebhookHandler(uc *usecase.WebhookUsecase, providers *provider.Registry) *WebhookHandler {
	return &WebhookHandler{uc: uc, providers: providers}
}

type WebhookAck struct {
	Received bool `json:"received"`
}

func (h *WebhookHandler) RegisterRoutes(e *echo.Echo) {
	e.POST("/webhooks/:provider", h.receive)
}

func (h *WebhookHandler) receive(c echo.Context) error {
	name := c.Param("provider")

	// 署名は生のbodyに対して計算されるのでBindしない
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody+1))
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}
	if len(body) > maxWebhookBody {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "payload too large"})
	}

	signature := ""
	if adapter, ok := h.providers.Get(name); ok {
		signature = c.Request().Header.Get(adapter.SignatureHeader())
	}

	if err := h.uc.HandleProviderEvent(c.Request().Context(), name, body, signature); err != nil {
		return writeError(c, err)
	}

	// 重複配信でも200
	return c.JSON(http.StatusOK, WebhookAck{Received: true})
}
