/*
Copyright (c) Clockwerk.io and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package protocol

import (
	"errors"
	"fmt"
)

// ErrBufferTooShort is returned when a packet or buffer doesn't have enough
// bytes for the message being read or written
var ErrBufferTooShort = errors.New("buffer is too short")

// EnumError is returned when a wire value doesn't map to any known enum member
type EnumError struct {
	Tag   string
	Value uint64
}

func (e *EnumError) Error() string {
	return fmt.Sprintf("invalid %s value 0x%x", e.Tag, e.Value)
}

// RangeError is returned when a field decodes to a value outside its legal range
type RangeError struct {
	Field string
	Value uint64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s value %d is out of range", e.Field, e.Value)
}
