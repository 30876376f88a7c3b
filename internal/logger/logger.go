// Package logger はJSON構造化ログの出力先（コンソール＋ローテーションファイル）を構成する。
package logger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options はロガーの構成。
type Options struct {
	Level string // debug, info, warn, error

	// ファイル出力。Dirが空の場合はコンソールのみに出力する。
	Dir           string
	FileName      string
	MaxSizeMB     int
	MaxBackups    int
	RetentionDays int
	Compress      bool
}

// Setup はJSON構造化ログ出力のslog.Loggerを生成して返す。
// writerが指定された場合はそのwriterに出力する。
func Setup(w io.Writer) *slog.Logger {
	return SetupWithLevel(w, slog.LevelInfo)
}

// SetupWithLevel は指定レベル以上を出力するJSONロガーを生成する。
func SetupWithLevel(w io.Writer, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	})
	return slog.New(handler)
}

// New はコンソールとローテーションファイルの両方に書き込むロガーを生成する。
// 返却されるio.Closerはファイル出力を閉じる。ファイル出力がない場合もnilではない。
func New(console io.Writer, opts Options) (*slog.Logger, io.Closer) {
	if console == nil {
		console = os.Stdout
	}

	if opts.Dir == "" {
		return SetupWithLevel(console, ParseLevel(opts.Level)), nopCloser{}
	}

	name := opts.FileName
	if name == "" {
		name = "app.log"
	}

	file := &lumberjack.Logger{
		Filename:   filepath.Join(opts.Dir, name),
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.RetentionDays,
		Compress:   opts.Compress,
	}

	return SetupWithLevel(io.MultiWriter(console, file), ParseLevel(opts.Level)), file
}

// SetupDefault はJSON構造化ログ出力をグローバルロガーとして設定する。
// ライブラリ内部のslog.Default()呼び出しも同じ出力先に揃えるために使用する。
func SetupDefault(l *slog.Logger) {
	slog.SetDefault(l)
}

// ParseLevel はログレベル文字列をslog.Levelに変換する。
// 未知の値はinfoとして扱う。traceはdebugに丸める。
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace", "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
