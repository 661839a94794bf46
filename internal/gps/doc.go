// Package gps owns the GNSS receiver side of the supervisor.
//
// A Source is an open, non-blocking descriptor (serial device, or a gpsd
// socket in raw NMEA mode) plus the incremental Parser fed from it. Sources
// are shared through a Handle and closed by the last owner.
//
// The parser only frames and checksums sentences; field decoding is delegated
// to go-nmea, and Fix folds RMC/GGA packets into a position summary.
package gps
