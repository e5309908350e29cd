package port

import "context"

// TranscriptionService 是语音转写与文本润色的出站端口。
type TranscriptionService interface {
	// Transcribe 把一段录音转成文字。
	Transcribe(ctx context.Context, audio []byte, filename, language string) (string, error)
	// Polish 对文本做轻度润色（修正语法、标点），不改变原意。
	Polish(ctx context.Context, text, language string) (string, error)
}
