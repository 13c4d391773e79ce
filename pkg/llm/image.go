package llm

import (
	"context"
	"encoding/base64"
	"net/http"

	"github.com/artkit-ai/artkit/pkg/models"
)

// Image is encoded image data such as a PNG or JPEG file.
type Image struct {
	Data []byte
}

// MIMEType sniffs the image format from its leading bytes.
func (i Image) MIMEType() string {
	return http.DetectContentType(i.Data)
}

// Base64 returns the standard base64 encoding of the data.
func (i Image) Base64() string {
	return base64.StdEncoding.EncodeToString(i.Data)
}

// DataURL returns the image as a data: URL.
func (i Image) DataURL() string {
	return "data:" + i.MIMEType() + ";base64," + i.Base64()
}

// DiffusionModel generates images from a text prompt.
type DiffusionModel interface {
	ModelID() string
	ModelParams() models.Params
	TextToImage(ctx context.Context, text string, params models.Params) ([]Image, error)
}

// VisionModel describes an image. An empty prompt lets the model use its
// default question.
type VisionModel interface {
	ModelID() string
	ModelParams() models.Params
	ImageToText(ctx context.Context, image Image, prompt string, params models.Params) ([]string, error)
}
