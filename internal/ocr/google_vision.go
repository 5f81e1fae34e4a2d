package ocr

import (
	"context"
	"fmt"
	"os"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"
)

// imageAnnotator is the part of the Vision client the service uses.
type imageAnnotator interface {
	BatchAnnotateImages(ctx context.Context, req *visionpb.BatchAnnotateImagesRequest, opts ...gax.CallOption) (*visionpb.BatchAnnotateImagesResponse, error)
	Close() error
}

// GoogleVisionService implements Service using Google Cloud Vision TEXT_DETECTION.
type GoogleVisionService struct {
	client imageAnnotator
}

// NewGoogleVisionService creates a Vision client. A non-empty apiKey is used
// directly; otherwise credentials come from GOOGLE_CREDENTIALS,
// GOOGLE_APPLICATION_CREDENTIALS or the application default credentials.
func NewGoogleVisionService(ctx context.Context, apiKey string) (*GoogleVisionService, error) {
	const op = "NewGoogleVisionService"

	var client *vision.ImageAnnotatorClient
	var err error

	switch {
	case apiKey != "":
		client, err = vision.NewImageAnnotatorClient(ctx, option.WithAPIKey(apiKey))
		if err != nil {
			return nil, WrapOCRError(op, err, "failed to create client with GOOGLE_VISION_API_KEY")
		}
	case os.Getenv("GOOGLE_CREDENTIALS") != "":
		client, err = vision.NewImageAnnotatorClient(ctx, option.WithCredentialsJSON([]byte(os.Getenv("GOOGLE_CREDENTIALS"))))
		if err != nil {
			return nil, WrapOCRError(op, err, "failed to create client with GOOGLE_CREDENTIALS")
		}
	case os.Getenv("GOOGLE_APPLICATION_CREDENTIALS") != "":
		client, err = vision.NewImageAnnotatorClient(ctx, option.WithCredentialsFile(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")))
		if err != nil {
			return nil, WrapOCRError(op, err, "failed to create client with GOOGLE_APPLICATION_CREDENTIALS")
		}
	default:
		client, err = vision.NewImageAnnotatorClient(ctx)
		if err != nil {
			return nil, WrapOCRError(op, ErrMissingCredentials, "no credentials found in environment")
		}
	}

	return &GoogleVisionService{client: client}, nil
}

// ExtractText sends the image inline and returns the full text annotation,
// falling back to the first text annotation.
func (g *GoogleVisionService) ExtractText(ctx context.Context, imagePath string) (string, error) {
	const op = "GoogleVisionService.ExtractText"

	data, err := readImage(op, imagePath)
	if err != nil {
		return "", err
	}

	req := &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{
			{
				Image: &visionpb.Image{Content: data},
				Features: []*visionpb.Feature{
					{
						Type:       visionpb.Feature_TEXT_DETECTION,
						MaxResults: 1,
					},
				},
			},
		},
	}

	resp, err := g.client.BatchAnnotateImages(ctx, req)
	if err != nil {
		return "", NewOCRError(op, ErrOCRFailed, fmt.Sprintf("Vision API call failed: %v", err))
	}
	if len(resp.GetResponses()) == 0 {
		return "", NewOCRError(op, ErrOCRFailed, "no response from Vision API")
	}

	image := resp.GetResponses()[0]
	if image.GetError() != nil && image.GetError().GetMessage() != "" {
		return "", NewOCRError(op, ErrOCRFailed, fmt.Sprintf("Vision API error: %s", image.GetError().GetMessage()))
	}

	if text := image.GetFullTextAnnotation().GetText(); text != "" {
		return text, nil
	}
	if annotations := image.GetTextAnnotations(); len(annotations) > 0 {
		return annotations[0].GetDescription(), nil
	}
	return "", nil
}

// Close closes the underlying Vision client.
func (g *GoogleVisionService) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}
