// Copyright 2024 The Corestream Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

//go:build debug

// Package buildtag switches the tracker's protocol-error handling between
// a debug build (fatal, per spec.md §7: "malformed progress report,
// unknown actor on a command, double-Done from an actor → fatal in
// debug") and a release build (warn-log and continue). This is a build
// tag, not a runtime flag, matching SPEC_FULL.md's Open Question
// decision: the distinction is about what a developer is running
// locally, not something an operator should be able to toggle in
// production.
package buildtag

// FatalOnProtocolError is true in builds tagged "debug".
const FatalOnProtocolError = true
