package models

// Score is one day's recorded behavioral score.
type Score = uint32

// ScoreAPYExponent converts score units to an APY rate: 1000 score units are
// one percent per year, i.e. score s maps to UDecimal{s, 5}.
const ScoreAPYExponent uint32 = 5

// Timezone is a fixed UTC offset. An account's timezone is set when its
// first score-bearing jar is created; an unset timezone signals the account
// has no score-based jars yet and score operations must be rejected.
type Timezone struct {
	OffsetMS int64 `json:"offset_ms"`
	Set      bool  `json:"set"`
}

// AdjustedDay returns the local day index (days since epoch) of the given
// UTC instant under this offset.
func (tz Timezone) AdjustedDay(utc Timestamp) int64 {
	return floorDiv(utc+tz.OffsetMS, MSPerDay)
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b < 0 {
		q--
	}
	return q
}

// AccountScore is the per-account two-slot rolling score buffer.
//
// Scores[0] is today, Scores[1] is yesterday, in the account's local days.
// Scores feeds interest computation and is invalidated when score-based
// interest is claimed. ScoresHistory receives every raw recorded value and
// is never invalidated; it exists purely for display.
type AccountScore struct {
	Updated       Timestamp `json:"updated"`
	Timezone      Timezone  `json:"timezone"`
	Scores        [2]Score  `json:"scores"`
	ScoresHistory [2]Score  `json:"scores_history"`
}

// Record folds one (score, utc_time) observation into the buffer. When the
// observation's local day is newer than the last recorded one, the buffer
// rotates first: today becomes yesterday and the new day starts at zero.
// The caller must have checked that the timezone is set.
func (s *AccountScore) Record(score Score, utc Timestamp) {
	day := s.Timezone.AdjustedDay(utc)
	lastDay := s.Timezone.AdjustedDay(s.Updated)
	if day > lastDay {
		shift := day - lastDay
		if shift == 1 {
			s.Scores[1] = s.Scores[0]
			s.ScoresHistory[1] = s.ScoresHistory[0]
		} else {
			s.Scores[1] = 0
			s.ScoresHistory[1] = 0
		}
		s.Scores[0] = 0
		s.ScoresHistory[0] = 0
	}
	if day >= lastDay {
		s.Updated = utc
		s.Scores[0] += score
		s.ScoresHistory[0] += score
		return
	}
	// Late observation for the previous local day.
	if lastDay-day == 1 {
		s.Scores[1] += score
		s.ScoresHistory[1] += score
	}
}

// Reset invalidates the accrual buffer after a claim. The display history
// keeps its values.
func (s *AccountScore) Reset() {
	s.Scores = [2]Score{}
}
