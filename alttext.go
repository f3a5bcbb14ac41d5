package script

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/Mkas1988/digital-script/llm"
	"github.com/Mkas1988/digital-script/storage"
)

// altTextPrompt asks for one short accessible caption in German.
const altTextPrompt = "Beschreibe diese Abbildung aus einem Studienbrief in einem " +
	"kurzen deutschen Satz als Alternativtext. Antworte nur mit der Beschreibung."

// altTextFunc adapts a vision provider into the uploader's captioning
// hook. Images are inlined as base64 data URLs.
func altTextFunc(vision llm.VisionProvider) storage.AltFunc {
	return func(ctx context.Context, data []byte, format string, page int) (string, error) {
		mime := "image/png"
		if format == "jpeg" || format == "jpg" {
			mime = "image/jpeg"
		}
		dataURL := fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(data))

		resp, err := vision.ChatWithImages(ctx, llm.VisionChatRequest{
			Messages: []llm.VisionMessage{{
				Role: "user",
				Content: []llm.ContentPart{
					{Type: "text", Text: altTextPrompt},
					{Type: "image_url", ImageURL: &llm.ImageURL{URL: dataURL}},
				},
			}},
			MaxTokens: 120,
		})
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(resp.Content), nil
	}
}
