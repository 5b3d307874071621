package genserver

import (
	"fmt"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// ServerError wraps err as an echo.HTTPError the way the teacher's
// spaserver.ServerError does, generalized to carry the caller's chosen
// status code instead of always answering 500.
func (s *Server) ServerError(c echo.Context, status int, err error) error {
	return echo.NewHTTPError(status, err.Error())
}

func errJobNotFound(id string) error {
	return fmt.Errorf("genserver: no such job: %s", id)
}

func errJobNotDone(id, status string) error {
	return fmt.Errorf("genserver: job %s is not done (status: %s)", id, status)
}

func zapField(key, value string) zap.Field {
	return zap.String(key, value)
}
