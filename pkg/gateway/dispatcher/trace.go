// SPDX-License-Identifier: Apache-2.0

package dispatcher

import "github.com/google/uuid"

// newTraceID mints a "gw-"-prefixed id for one invoke call, attached to the
// response and to every log line the call emits, so an operator can follow
// one request across logs without correlating on arguments.
func newTraceID() string {
	return "gw-" + uuid.NewString()
}
