// Package calibration converts raw sensor values (resistance or diode
// voltage) into temperatures using tabulated calibration curves. It
// contains:
//
//   - Table: an immutable, raw-sorted sample set with an out-of-domain Policy
//   - Set: several named tables loaded together, where one bad table does
//     not prevent the others from loading
//
// Tables are loaded once at start-up and shared read-only afterwards.
package calibration
