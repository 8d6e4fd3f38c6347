// Package protocol implements the command/response codec spoken with the
// provisioning image running on the device.
//
// A message is a 4-byte header (command, flags) followed by TLV fields:
//
//	+---------+---------+----------------------+
//	| cmd u16 | flg u16 | fields (id,type,len) |
//	+---------+---------+----------------------+
//
// Messages travel over the RTT stream wrapped in frames: a 2-byte magic and a
// 4-byte big-endian length precede each message (see WriteFrame/ReadFrame).
//
// Responses carry the FlagResponse bit, the command they answer, a status
// field and an optional payload field.
package protocol
