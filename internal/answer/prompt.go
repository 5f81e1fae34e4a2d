package answer

import "strings"

const (
	rawOCRHeader   = "\n\n[OCR gốc (có thể chứa rác, chỉ dùng tham khảo):]\n"
	strictReminder = "\n\n[Lưu ý: Các lần trước bạn chưa trả về đầy đủ JSON (thiếu question hoặc answer). " +
		"Lần này BẮT BUỘC trả về JSON đủ trường và chọn answer là đúng 1 chữ cái A/B/C/D.]"
)

// BuildRequest assembles the text sent to the AI for one attempt (1-based):
// the question block, the raw OCR when it differs from the block, and from
// the second attempt on a reminder to return complete JSON.
func BuildRequest(block, ocrText string, attempt int) string {
	if strings.TrimSpace(block) == "" {
		block = ocrText
	}

	var sb strings.Builder
	sb.WriteString(block)
	if strings.TrimSpace(block) != strings.TrimSpace(ocrText) {
		sb.WriteString(rawOCRHeader)
		sb.WriteString(ocrText)
	}
	if attempt >= 2 {
		sb.WriteString(strictReminder)
	}
	return sb.String()
}
