// Package msc implements the USB Mass Storage Class Bulk-Only Transport
// (BOT) with the SCSI transparent command set.
//
// [MSC] is the device side. It reads Command Block Wrappers from a [Pipe],
// dispatches the SCSI command to a [Storage] and answers with a Command
// Status Wrapper. READ (10) and WRITE (10) are split into storage requests
// of at most [MaxTransferSize] bytes; the CSW residue reflects the bytes
// the storage actually transferred.
//
// [Client] is the host side and issues the same commands over the other
// end of the pipe.
//
// # Supported Commands
//
//   - TEST UNIT READY, REQUEST SENSE, INQUIRY
//   - READ CAPACITY (10), READ CAPACITY (16), READ FORMAT CAPACITIES
//   - READ (10), WRITE (10), VERIFY (10), SYNCHRONIZE CACHE (10)
//   - MODE SENSE (6), PREVENT/ALLOW MEDIUM REMOVAL, START STOP UNIT
//
// Any other operation code fails with ILLEGAL REQUEST and the sense code
// for an invalid command.
//
// # Example
//
//	dev := msc.New(pipe, storage)
//	go dev.Run(ctx)
package msc
