package cloudevents

import (
	"time"
)

// Source constants for event sources
const (
	SourceStockService = "/pos/stock-service"
)

// POSCloudEvent represents a CloudEvents v1.0 compliant event emitted by the
// stock service.
type POSCloudEvent struct {
	SpecVersion     string      `json:"specversion"`
	Type            string      `json:"type"`
	Source          string      `json:"source"`
	Subject         string      `json:"subject,omitempty"`
	ID              string      `json:"id"`
	Time            time.Time   `json:"time"`
	DataContentType string      `json:"datacontenttype"`
	Data            interface{} `json:"data"`

	// POS-specific extensions
	CorrelationID string `json:"poscorrelationid,omitempty"`
	SaleID        string `json:"possaleid,omitempty"`
	ProductCode   string `json:"posproductcode,omitempty"`
}

// ShortageDetectedData is the payload of pos.stock.shortage-detected.
type ShortageDetectedData struct {
	ShortageID        string         `json:"shortageId"`
	ProductCode       string         `json:"productCode"`
	Message           string         `json:"message"`
	Breakdown         map[string]int `json:"breakdown"`
	TotalAvailable    int            `json:"totalAvailable"`
	RequestedQuantity int            `json:"requestedQuantity"`
	DetectedAt        time.Time      `json:"detectedAt"`
}

// Headers returns the binary-mode CloudEvents attributes used as broker
// message headers.
func (e *POSCloudEvent) Headers() map[string]string {
	h := map[string]string{
		"ce-specversion": e.SpecVersion,
		"ce-type":        e.Type,
		"ce-source":      e.Source,
		"ce-id":          e.ID,
		"ce-time":        e.Time.Format(time.RFC3339),
		"content-type":   e.DataContentType,
	}
	if e.Subject != "" {
		h["ce-subject"] = e.Subject
	}
	if e.CorrelationID != "" {
		h["ce-poscorrelationid"] = e.CorrelationID
	}
	if e.SaleID != "" {
		h["ce-possaleid"] = e.SaleID
	}
	if e.ProductCode != "" {
		h["ce-posproductcode"] = e.ProductCode
	}
	return h
}
