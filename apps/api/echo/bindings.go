package echoapi

import (
	"mime/multipart"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/phqcare/core"
)

var orderingParam = "ordering"

type Ordering struct {
	Orderings []core.DBOrdering
}

func (ord *Ordering) Bind(ctx echo.Context) {
	data := ctx.QueryParams()
	if len(data) == 0 {
		return
	}
	val, ok := data[orderingParam]
	if !ok || len(val) == 0 || val[0] == "" {
		return
	}

	for _, field := range strings.Split(val[0], ",") {
		field = strings.TrimSpace(field)
		descending := strings.HasPrefix(field, "-")
		if descending {
			field = field[1:] // drop "-"
		}
		ord.Orderings = append(ord.Orderings, core.DBOrdering{Field: field, Ascending: !descending})
	}
}

// formFile returns the uploaded file of the `file` form field.
// The caller closes it.
func formFile(ctx echo.Context) (*multipart.FileHeader, multipart.File, error) {
	fh, err := ctx.FormFile("file")
	if err != nil {
		return nil, nil, errFileRequired
	}
	f, err := fh.Open()
	if err != nil {
		return nil, nil, errors.Wrap(err, "opening uploaded file")
	}
	return fh, f, nil
}

func isMultipart(ctx echo.Context) bool {
	return strings.HasPrefix(ctx.Request().Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm)
}

// pathParam returns an unescaped path parameter. Class names may contain
// an escaped "/", which the router leaves as is.
func pathParam(ctx echo.Context, name string) string {
	val := ctx.Param(name)
	if unescaped, err := url.PathUnescape(val); err == nil {
		return unescaped
	}
	return val
}
