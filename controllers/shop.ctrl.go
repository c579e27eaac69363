package controllers

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ilphub/ilphub.go/lib/responses"
	"github.com/ilphub/ilphub.go/lib/service"
)

// ShopController serves the letter shop: unpaid requests get a 402 with
// a Pay header describing the PSK session, paid fulfillments are
// exchanged for letters.
type ShopController struct {
	svc *service.ShopService
}

func NewShopController(svc *service.ShopService) *ShopController {
	return &ShopController{svc: svc}
}

// Home opens a payment session and responds 402 Payment Required. The
// customer pays out of band and collects the letter with the
// fulfillment its payment produced.
func (controller *ShopController) Home(c echo.Context) error {
	session, err := controller.svc.Sessions.New(nil)
	if err != nil {
		c.Logger().Errorf("Failed to create session: %v", err)
		return c.JSON(responses.GeneralServerError.HttpStatusCode, responses.GeneralServerError)
	}
	payHeader := controller.svc.PayHeader(session)
	c.Response().Header().Set("Pay", payHeader)
	return c.String(http.StatusPaymentRequired,
		fmt.Sprintf("Please send an Interledger payment of %d to %s.%s\nPay: %s\n",
			controller.svc.Config.ShopPrice,
			controller.svc.Ledger.Account(),
			session.ID,
			payHeader))
}

// Stream keeps the connection open and writes one letter per settled
// payment on the session, the streaming-payments flow.
func (controller *ShopController) Stream(c echo.Context) error {
	letterChan := make(chan string, 16)
	session, err := controller.svc.Sessions.New(func(letter string) {
		// Drop rather than block the ledger event loop when the
		// customer stopped reading.
		select {
		case letterChan <- letter:
		default:
		}
	})
	if err != nil {
		c.Logger().Errorf("Failed to create session: %v", err)
		return c.JSON(responses.GeneralServerError.HttpStatusCode, responses.GeneralServerError)
	}
	defer controller.svc.Sessions.Remove(session.ID)

	c.Response().Header().Set("Pay", controller.svc.PayHeader(session))
	c.Response().Header().Set(echo.HeaderContentType, echo.MIMETextPlainCharsetUTF8)
	c.Response().WriteHeader(http.StatusOK)
	c.Response().Flush()

	for {
		select {
		case <-c.Request().Context().Done():
			return nil
		case letter := <-letterChan:
			if _, err := c.Response().Write([]byte(letter)); err != nil {
				return nil
			}
			c.Response().Flush()
		}
	}
}

type CollectRequest struct {
	Fulfillment string `param:"fulfillment" validate:"required,len=43"`
}

// Collect exchanges a fulfillment for the letter it paid for.
func (controller *ShopController) Collect(c echo.Context) error {
	var req CollectRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(responses.BadArgumentsError.HttpStatusCode, responses.BadArgumentsError)
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(responses.BadArgumentsError.HttpStatusCode, responses.BadArgumentsError)
	}
	letter, found := controller.svc.CollectLetter(req.Fulfillment)
	if !found {
		return c.JSON(responses.LetterNotFoundError.HttpStatusCode, responses.LetterNotFoundError)
	}
	return c.String(http.StatusOK, fmt.Sprintf("Your letter: %s\n", letter))
}
