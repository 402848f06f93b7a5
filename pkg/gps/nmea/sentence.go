// Package nmea is a GPS Source reading $GPRMC/$GPGGA sentences from a
// line-oriented byte stream (a serial port or pty), validating each
// sentence's checksum and decoding its degrees-plus-minutes fields
// into latitude/longitude values as int32 degrees scaled by 1e7.
package nmea

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	errMissingChecksum = errors.New("nmea: sentence missing checksum")
	errBadChecksum     = errors.New("nmea: checksum mismatch")
	errTooFewFields    = errors.New("nmea: sentence has too few fields")
	errVoidFix         = errors.New("nmea: sentence reports void/no fix")
)

// removeChecksum validates and strips the trailing "*hh" checksum,
// per dwgpsnmea.go's remove_checksum.
func removeChecksum(sentence string) (string, error) {
	msg, checksumStr, found := strings.Cut(sentence, "*")
	if !found {
		return "", errMissingChecksum
	}
	var calculated int64
	for _, r := range msg[1:] {
		calculated ^= int64(r)
	}
	checksum, err := strconv.ParseInt(strings.TrimSpace(checksumStr), 16, 0)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errBadChecksum, err)
	}
	if calculated != checksum {
		return "", fmt.Errorf("%w: calculated %02x, sentence says %02x", errBadChecksum, calculated, checksum)
	}
	return msg, nil
}

// coordE7FromNMEA parses a degrees-and-minutes NMEA coordinate field
// ("ddmm.mmmm" for latitude, "dddmm.mmmm" for longitude) into a
// signed value scaled by 1e7, applying the hemisphere sign.
func coordE7FromNMEA(field string, hemi byte, degreeDigits int) (int32, error) {
	if len(field) < degreeDigits+3 || field[degreeDigits+2] != '.' {
		return 0, fmt.Errorf("nmea: malformed coordinate field %q", field)
	}
	degrees := 0.0
	for i := 0; i < degreeDigits; i++ {
		if field[i] < '0' || field[i] > '9' {
			return 0, fmt.Errorf("nmea: malformed coordinate field %q", field)
		}
		degrees = degrees*10 + float64(field[i]-'0')
	}
	minutes, err := strconv.ParseFloat(field[degreeDigits:], 64)
	if err != nil {
		return 0, fmt.Errorf("nmea: malformed coordinate minutes %q: %w", field, err)
	}
	value := degrees + minutes/60.0
	if hemi == 'S' || hemi == 'W' {
		value = -value
	}
	return int32(value * 1e7), nil
}

func latitudeE7FromNMEA(field string, hemi byte) (int32, error) {
	return coordE7FromNMEA(field, hemi, 2)
}

func longitudeE7FromNMEA(field string, hemi byte) (int32, error) {
	return coordE7FromNMEA(field, hemi, 3)
}

// rmcFix is what a $GPRMC/$GNRMC sentence yields: position and
// ground speed/course, no altitude.
type rmcFix struct {
	latE7, lonE7 int32
	speedKnots   float64
}

func parseGPRMC(sentence string) (rmcFix, error) {
	body, err := removeChecksum(sentence)
	if err != nil {
		return rmcFix{}, err
	}

	fields := strings.Split(body, ",")
	if len(fields) < 8 {
		return rmcFix{}, errTooFewFields
	}
	// 0:type 1:time 2:status 3:lat 4:N/S 5:lon 6:E/W 7:speed-knots ...
	if fields[2] != "A" {
		return rmcFix{}, errVoidFix
	}
	if fields[3] == "" || fields[4] == "" {
		return rmcFix{}, fmt.Errorf("nmea: GPRMC missing latitude")
	}
	lat, err := latitudeE7FromNMEA(fields[3], fields[4][0])
	if err != nil {
		return rmcFix{}, err
	}
	if fields[5] == "" || fields[6] == "" {
		return rmcFix{}, fmt.Errorf("nmea: GPRMC missing longitude")
	}
	lon, err := longitudeE7FromNMEA(fields[5], fields[6][0])
	if err != nil {
		return rmcFix{}, err
	}
	var knots float64
	if fields[7] != "" {
		knots, _ = strconv.ParseFloat(fields[7], 64)
	}
	return rmcFix{latE7: lat, lonE7: lon, speedKnots: knots}, nil
}

// ggaFix is what a $GPGGA/$GNGGA sentence yields: position, altitude,
// satellite count, and a numeric fix quality (0 = no fix, 1/2 = GPS/
// DGPS fix).
type ggaFix struct {
	latE7, lonE7 int32
	altM         int32
	sats         byte
	gpsQuality   int
}

func parseGPGGA(sentence string) (ggaFix, error) {
	body, err := removeChecksum(sentence)
	if err != nil {
		return ggaFix{}, err
	}

	fields := strings.Split(body, ",")
	if len(fields) < 10 {
		return ggaFix{}, errTooFewFields
	}
	// 0:type 1:time 2:lat 3:N/S 4:lon 5:E/W 6:quality 7:numSats 8:hdop 9:altitude ...
	quality, err := strconv.Atoi(fields[6])
	if err != nil {
		return ggaFix{}, fmt.Errorf("nmea: malformed GPGGA fix quality %q: %w", fields[6], err)
	}
	if quality == 0 {
		return ggaFix{}, errVoidFix
	}
	if fields[2] == "" || fields[3] == "" {
		return ggaFix{}, fmt.Errorf("nmea: GPGGA missing latitude")
	}
	lat, err := latitudeE7FromNMEA(fields[2], fields[3][0])
	if err != nil {
		return ggaFix{}, err
	}
	if fields[4] == "" || fields[5] == "" {
		return ggaFix{}, fmt.Errorf("nmea: GPGGA missing longitude")
	}
	lon, err := longitudeE7FromNMEA(fields[4], fields[5][0])
	if err != nil {
		return ggaFix{}, err
	}
	var sats int
	if fields[7] != "" {
		sats, _ = strconv.Atoi(fields[7])
	}
	var alt float64
	if fields[9] != "" {
		alt, _ = strconv.ParseFloat(fields[9], 64)
	}
	return ggaFix{latE7: lat, lonE7: lon, altM: int32(alt), sats: byte(sats), gpsQuality: quality}, nil
}
