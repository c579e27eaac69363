package controllers

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ilphub/ilphub.go/ilp"
	"github.com/ilphub/ilphub.go/lib/responses"
	"github.com/ilphub/ilphub.go/lib/service"
)

// PayController drives the demo customer: it takes a Pay header from
// the shop and settles it through the connector with PSK payments.
type PayController struct {
	payer            *service.Payer
	connectorAddress string
}

func NewPayController(payer *service.Payer, connectorAddress string) *PayController {
	return &PayController{payer: payer, connectorAddress: connectorAddress}
}

type PayRequest struct {
	PayHeader string `json:"pay_header" validate:"required"`
	Payments  int    `json:"payments" validate:"omitempty,min=1,max=100"`
}

type PayResponse struct {
	Fulfillments []string `json:"fulfillments"`
}

func (controller *PayController) Pay(c echo.Context) error {
	var body PayRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(responses.BadArgumentsError.HttpStatusCode, responses.BadArgumentsError)
	}
	if err := c.Validate(&body); err != nil {
		return c.JSON(responses.BadArgumentsError.HttpStatusCode, responses.BadArgumentsError)
	}
	if body.Payments == 0 {
		body.Payments = 1
	}

	req, err := service.ParsePayHeader(body.PayHeader)
	if err != nil {
		return c.JSON(responses.BadArgumentsError.HttpStatusCode, responses.BadArgumentsError)
	}

	ctx := c.Request().Context()
	fulfillments := make([]string, 0, body.Payments)
	for i := 0; i < body.Payments; i++ {
		fulfillment, err := controller.payer.Pay(ctx, req, controller.connectorAddress, i, time.Minute)
		if err != nil {
			c.Logger().Errorf("Payment %d failed: %v", i, err)
			return c.JSON(responses.GeneralServerError.HttpStatusCode, responses.GeneralServerError)
		}
		fulfillments = append(fulfillments, ilp.EncodeCondition(fulfillment))
	}
	return c.JSON(http.StatusOK, &PayResponse{Fulfillments: fulfillments})
}
