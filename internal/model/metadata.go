package model

// RunMetadata describes one processed image: the parameters of the run and
// the detections it produced. Written to the JSON document and, when storage
// is enabled, into the metadata column.
type RunMetadata struct {
	Input               string      `json:"input"`
	OutputImage         string      `json:"output_image"`
	Mode                Mode        `json:"mode"`
	ConfidenceThreshold float64     `json:"confidence_threshold"`
	Thickness           int         `json:"thickness"`
	ShowLabel           bool        `json:"show_label"`
	Device              string      `json:"device"`
	Count               int         `json:"count"`
	Detections          []Detection `json:"detections"`
}
