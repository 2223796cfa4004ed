package compute

import (
	"fmt"
	"io"

	"github.com/AntoninHorkel/ricepaper/internal/utils"
	"github.com/vkngwrapper/extensions/v2/ext_debug_utils"
	"golang.org/x/exp/slog"
)

const (
	debugColorInfo    = 107
	debugColorWarning = 103
	debugColorError   = 101
)

// DebugSeverities and DebugTypes are the message filters used for the engine's debug messenger
var (
	DebugSeverities = ext_debug_utils.SeverityVerbose | ext_debug_utils.SeverityInfo |
		ext_debug_utils.SeverityWarning | ext_debug_utils.SeverityError
	DebugTypes = ext_debug_utils.TypeGeneral | ext_debug_utils.TypeValidation | ext_debug_utils.TypePerformance
)

// DebugSink receives messages from a debug messenger and writes them, color coded by
// severity, to a writer:
//
//	<color prefix> <message types> <severity> <message id>: <message>
//
// Messages are also logged at debug level.
type DebugSink struct {
	logger *slog.Logger
	writer io.Writer
	mutex  utils.OptionalMutex
}

func NewDebugSink(logger *slog.Logger, writer io.Writer) *DebugSink {
	return &DebugSink{
		logger: logger,
		writer: writer,
		mutex:  utils.OptionalMutex{UseMutex: true},
	}
}

func severityColor(severity ext_debug_utils.DebugUtilsMessageSeverityFlags) int {
	switch {
	case severity&ext_debug_utils.SeverityError != 0:
		return debugColorError
	case severity&ext_debug_utils.SeverityWarning != 0:
		return debugColorWarning
	case severity&(ext_debug_utils.SeverityVerbose|ext_debug_utils.SeverityInfo) != 0:
		return debugColorInfo
	}

	return debugColorError
}

// Callback is an ext_debug_utils callback. It always returns false so the call that
// triggered the message is not aborted.
func (s *DebugSink) Callback(msgType ext_debug_utils.DebugUtilsMessageTypeFlags, severity ext_debug_utils.DebugUtilsMessageSeverityFlags, data *ext_debug_utils.DebugUtilsMessengerCallbackData) bool {
	var messageID, message string
	if data != nil {
		messageID = data.MessageIDName
		message = data.Message
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.writer != nil {
		// Write failures are dropped, there is nowhere to report them from inside the driver
		_, _ = fmt.Fprintf(s.writer, "\x1B[0;1;30;%dm %s %s \x1B[0;1m %s: \x1B[0m%s\n",
			severityColor(severity), msgType, severity, messageID, message)
	}

	if s.logger != nil {
		s.logger.Debug("debug messenger",
			slog.String("type", msgType.String()),
			slog.String("severity", severity.String()),
			slog.String("id", messageID),
			slog.String("message", message),
		)
	}

	return false
}
