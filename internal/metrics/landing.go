package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/common/version"
	"github.com/prometheus/exporter-toolkit/web"
)

// AppName identifies the service on the landing page and in build info.
const AppName = "receipt-scanner"

const appDescription = "Extracts amount, date, merchant and category from photographed receipts."

// LandingPage builds the HTML index linking the service's operational endpoints.
func LandingPage(metricsPath string) (http.Handler, error) {
	page, err := web.NewLandingPage(web.LandingConfig{
		Name:        AppName,
		Description: appDescription,
		Version:     version.Print(AppName),
		Links: []web.LandingLinks{
			{Address: metricsPath, Text: "Metrics"},
			{Address: "/healthz", Text: "Health"},
			{Address: "/api/ocr/status", Text: "OCR status"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("creating landing page: %w", err)
	}
	return page, nil
}
