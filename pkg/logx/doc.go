// Package logx wraps zerolog for mucbot.
//
// Console output is short and human oriented, the optional log file gets
// JSON lines, and warnings can be mirrored into a MUC room through a rate
// limited Sender. Service.Apply swaps all of it at runtime on config reload.
package logx
