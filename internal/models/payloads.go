package models

// These structs define the JSON payloads of the HTTP functions.

// LayoutRequest selects the N-up arrangement of the output.
type LayoutRequest struct {
	PagesPerSheet int    `json:"pagesPerSheet"`
	Alignment     string `json:"alignment,omitempty"`
	Orientation   string `json:"orientation,omitempty"`
}

// ConvertRequest is the input for the pdf-converter function. Inputs are
// either listed explicitly or taken from every PDF under InputPrefix, in
// name order.
type ConvertRequest struct {
	InputURIs   []string       `json:"inputUris,omitempty"`
	InputPrefix string         `json:"inputPrefix,omitempty"`
	ColorMode   string         `json:"colorMode,omitempty"`
	DeletePages []int          `json:"deletePages,omitempty"` // 1-based
	Layout      *LayoutRequest `json:"layout,omitempty"`
	Strict      bool           `json:"strict,omitempty"`
}

// ConvertResponse is the output of the pdf-converter function.
type ConvertResponse struct {
	Status       string `json:"status"`
	JobID        string `json:"jobId"`
	OutputGCSUri string `json:"outputGcsUri"`
	Filename     string `json:"filename"`
	MIMEType     string `json:"mimeType"`
	PageCount    int    `json:"pageCount"`
	Duplicate    bool   `json:"duplicate,omitempty"`
}

// ThumbnailRequest is the input for the page-thumbnailer function.
type ThumbnailRequest struct {
	InputURI   string  `json:"inputUri"`
	PageNumber int     `json:"pageNumber"` // 1-based
	ColorMode  string  `json:"colorMode,omitempty"`
	Scale      float64 `json:"scale,omitempty"`
}

// ThumbnailResponse is the output of the page-thumbnailer function.
type ThumbnailResponse struct {
	Status       string `json:"status"`
	OutputGCSUri string `json:"outputGcsUri"`
	PageCount    int    `json:"pageCount"`
}
