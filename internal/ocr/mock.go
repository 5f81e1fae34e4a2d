package ocr

import (
	"context"
	"fmt"
	"hash/fnv"
	"path/filepath"
	"strings"
)

// MockService returns sample question text without reading the image. The
// question number and id are derived from the file name so that different
// captures do not collapse in the metadata dedup gate.
type MockService struct{}

func NewMockService() *MockService { return &MockService{} }

// ExtractText never fails.
func (MockService) ExtractText(_ context.Context, imagePath string) (string, error) {
	return MockText(imagePath), nil
}

// MockText builds the sample text for an image path.
func MockText(imagePath string) string {
	name := filepath.Base(imagePath)
	h := fnv.New32a()
	h.Write([]byte(strings.TrimSuffix(name, filepath.Ext(name))))
	sum := h.Sum32()

	return fmt.Sprintf(`Multiple choices %d/50
[%d]
(Choose 1 answer)
The PageModel in Razor Pages is best described as:
A. A combination of Controller and ViewModel
B. A database entity
C. An Entity Framework class
D. A replacement for HTML

Sample data, the image was not read. File: %s`, sum%50+1, sum%100000, name)
}
