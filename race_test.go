// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build race

package circalloc_test

// raceEnabled is true when tests are built with the race tag, so stress
// tests can cut their iteration counts instead of timing out under the
// race detector's instrumentation.
const raceEnabled = true
