package log

import (
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

var emojiMap = map[string]string{
	"startup":      "🚀",
	"request":      "🌐",
	"rate_limit":   "🚦",
	"circuit":      "🔌",
	"redis":        "📦",
	"gateway":      "🚪",
	"fallback":     "🪂",
	"stream":       "📊",
	"slow_request": "🐌",
	"audit":        "📋",
}

func statusEmoji(status int) string {
	switch {
	case status >= 500:
		return "🔴"
	case status >= 400:
		return "🟠"
	case status >= 300:
		return "🟡"
	}
	return "🟢"
}

// EmojiConsoleEncoder wraps the console encoder and prefixes each message
// with an emoji picked from the HTTP status, the "type" field, or the level.
type EmojiConsoleEncoder struct {
	zapcore.Encoder
}

// NewEmojiConsoleEncoder creates the console encoder.
func NewEmojiConsoleEncoder(cfg zapcore.EncoderConfig) zapcore.Encoder {
	return &EmojiConsoleEncoder{
		Encoder: zapcore.NewConsoleEncoder(cfg),
	}
}

// EncodeEntry implements zapcore.Encoder.
func (enc *EmojiConsoleEncoder) EncodeEntry(entry zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	var (
		logType string
		status  int64
	)
	for _, field := range fields {
		switch {
		case field.Key == "type" && field.Type == zapcore.StringType:
			logType = field.String
		case field.Key == "status" && (field.Type == zapcore.Int64Type || field.Type == zapcore.Int32Type):
			status = field.Integer
		}
	}

	emoji := ""
	if status > 0 {
		emoji = statusEmoji(int(status))
	} else if e, ok := emojiMap[logType]; ok {
		emoji = e
	}

	if emoji == "" {
		switch entry.Level {
		case zapcore.ErrorLevel, zapcore.DPanicLevel, zapcore.PanicLevel, zapcore.FatalLevel:
			emoji = "❌"
		case zapcore.WarnLevel:
			emoji = "⚠️"
		case zapcore.InfoLevel:
			emoji = "ℹ️"
		case zapcore.DebugLevel:
			emoji = "🐛"
		}
	}

	if emoji != "" {
		entry.Message = emoji + " " + entry.Message
	}

	return enc.Encoder.EncodeEntry(entry, fields)
}

// Clone implements zapcore.Encoder.
func (enc *EmojiConsoleEncoder) Clone() zapcore.Encoder {
	return &EmojiConsoleEncoder{Encoder: enc.Encoder.Clone()}
}
