/*
Copyright (C) 2019-2020 Andreas T Jonsson

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <http://www.gnu.org/licenses/>.
*/

package processor

import "github.com/sirupsen/logrus"

// Diagnostics wraps the logger the core reports guest anomalies through.
// A nil *logrus.Logger falls back to logrus.StandardLogger().
type Diagnostics struct {
	log *logrus.Logger
}

func NewDiagnostics(log *logrus.Logger) Diagnostics {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return Diagnostics{log: log}
}

func (d Diagnostics) fields(cs, ip uint16, opcode byte) *logrus.Entry {
	return d.log.WithFields(logrus.Fields{
		"cs":     cs,
		"ip":     ip,
		"opcode": opcode,
	})
}

// InvalidOpcode reports a guest instruction byte the core does not decode.
func (d Diagnostics) InvalidOpcode(cs, ip uint16, opcode byte) {
	d.fields(cs, ip, opcode).Error("invalid opcode")
}

// UndefinedShift reports a reserved reg field (6) in the D0-D3 shift/rotate
// group, per §7: a programming error detectable in debug builds.
func (d Diagnostics) UndefinedShift(cs, ip uint16, opcode byte) {
	d.fields(cs, ip, opcode).Debug("undefined shift/rotate sub-opcode")
}

// Halt reports HLT, mostly useful when a host runs headless and wants a
// log line marking the end of emulation.
func (d Diagnostics) Halt(cs, ip uint16) {
	d.log.WithFields(logrus.Fields{"cs": cs, "ip": ip}).Info("cpu halt")
}
