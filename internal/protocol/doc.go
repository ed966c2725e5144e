// Package protocol opens the DAP session with rdbg.
//
// It sends exactly one message, the initialize request, framed as
//
//	Content-Length: <N>\r\n\r\n<json-body>
//
// The header and body are written separately, header first. No response is
// read and no further messages are sent.
package protocol
