// Copyright 2024 The Cipherbox Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package log

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// zerologSink adapts a zerolog.Logger to the ExternalLogger interface so
// it can be installed via Register.
type zerologSink struct {
	l zerolog.Logger
}

var _ ExternalLogger = (*zerologSink)(nil)

func (z *zerologSink) Log(level Level, msg string) {
	switch level {
	case DebugLevel:
		z.l.Debug().Msg(msg)
	case ErrorLevel:
		z.l.Error().Msg(msg)
	case DisabledLevel:
		// nothing
	default:
		z.l.Info().Msg(msg)
	}
}

func (z *zerologSink) Flush() {
	// zerolog writers are unbuffered by default; nothing to flush.
}

// UseZerolog registers a zerolog-backed structured JSON logger as the
// external sink for every log.Debug/Info/Error call in the process. w
// defaults to os.Stderr if nil. It may only be called once per process,
// matching the single-registration contract of Register.
func UseZerolog(w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	zl := zerolog.New(w).With().Timestamp().Logger()
	Register(&zerologSink{l: zl})
}
