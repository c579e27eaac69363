package responses

import (
	"errors"
	"net/http"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

func TestClientErrorsNotAllowedForSentry(t *testing.T) {
	notFound := echo.NewHTTPError(http.StatusNotFound, LetterNotFoundError)

	isAllowed := isErrAllowedForSentry(notFound)
	assert.False(t, isAllowed)
}

func TestServerErrorsAllowedForSentry(t *testing.T) {
	serverErr := echo.NewHTTPError(http.StatusInternalServerError, GeneralServerError)

	isAllowed := isErrAllowedForSentry(serverErr)
	assert.True(t, isAllowed)
}

func TestNonHTTPErrorsAllowedForSentry(t *testing.T) {
	err := errors.New("random error")

	isAllowed := isErrAllowedForSentry(err)
	assert.True(t, isAllowed)
}
