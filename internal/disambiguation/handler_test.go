package disambiguation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxion/voice-agent/internal/domain"
	"github.com/fluxion/voice-agent/pkg/logging"
)

var (
	gigio = domain.Candidate{ID: "C1", Name: "Gigio", Surname: "Peruzzi", Phone: "+39 333 1234567", BirthDate: "1985-03-15", VIP: true}
	gino  = domain.Candidate{ID: "C2", Name: "Gino", Surname: "Peruzzi", Phone: "3471112233", BirthDate: "1990-07-01"}
)

func newTestHandler() *Handler {
	return NewHandler(
		WithClock(func() time.Time { return time.Date(2026, time.October, 19, 10, 0, 0, 0, time.UTC) }),
		WithLogger(logging.Discard()),
	)
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("Gino", "gino"))
	assert.InDelta(t, 0.7, Similarity("Gino", "Gigio"), 0.001)
	assert.True(t, Similar("Gino", "Gigio"))
	assert.False(t, Similar("Gino", "Marta"))
	assert.Equal(t, 0.0, Similarity("", "Gino"))
	assert.Equal(t, 1.0, Similarity("Nicolò", "nicolo"))
	assert.LessOrEqual(t, Similarity("Marco", "Marcos"), 1.0)
}

func TestSimilarCandidates(t *testing.T) {
	marta := domain.Candidate{ID: "C3", Name: "Marta"}
	got := SimilarCandidates("Gino", []domain.Candidate{gigio, marta, gino})
	require.Len(t, got, 2)
	assert.Equal(t, "C2", got[0].ID)
	assert.Equal(t, "C1", got[1].ID)
}

func TestStartAsksBirthDateForSimilarNames(t *testing.T) {
	h := newTestHandler()
	res, st := h.Start("Gino", []domain.Candidate{gigio, gino})

	assert.Equal(t, KindAsk, res.Kind)
	assert.Equal(t, AskBirthDate, res.Message)
	assert.Equal(t, domain.AwaitingDOB, st.Awaiting)
	assert.Equal(t, 1, st.Attempts)
	assert.Len(t, st.Candidates, 2)
	assert.True(t, st.Active())
}

func TestStartAutoConfirms(t *testing.T) {
	h := newTestHandler()
	marta := domain.Candidate{ID: "C3", Name: "Marta", Surname: "Bianchi"}

	res, st := h.Start("Gino", []domain.Candidate{gino, marta})
	assert.Equal(t, KindResolved, res.Kind)
	assert.Equal(t, "C2", res.Candidate.ID)
	assert.False(t, st.Active())

	res, _ = h.Start("Gino", []domain.Candidate{gino})
	assert.Equal(t, KindResolved, res.Kind)

	res, _ = h.Start("Gino", nil)
	assert.Equal(t, KindNewCustomer, res.Kind)
}

func TestStartSingleSoundAlikeAsks(t *testing.T) {
	h := newTestHandler()
	res, st := h.Start("Gino", []domain.Candidate{gigio})
	assert.Equal(t, KindAsk, res.Kind)
	assert.Len(t, st.Candidates, 1)
}

func TestHandleBirthDate(t *testing.T) {
	h := newTestHandler()
	_, st := h.Start("Gino", []domain.Candidate{gigio, gino})

	res, next := h.Handle("15 marzo 1985", st)
	assert.Equal(t, KindResolved, res.Kind)
	assert.Equal(t, "C1", res.Candidate.ID)
	assert.False(t, next.Active())
}

func TestHandleBirthDateNoMatchIsNewCustomer(t *testing.T) {
	h := newTestHandler()
	_, st := h.Start("Gino", []domain.Candidate{gigio, gino})

	res, next := h.Handle("sono nato il 2 giugno 1970", st)
	assert.Equal(t, KindNewCustomer, res.Kind)
	assert.False(t, next.Active())
}

func TestHandleSameBirthDateAsksPhone(t *testing.T) {
	h := newTestHandler()
	twin := gino
	twin.BirthDate = gigio.BirthDate
	_, st := h.Start("Gino", []domain.Candidate{gigio, twin})

	res, st := h.Handle("il 15/03/1985", st)
	require.Equal(t, KindAsk, res.Kind)
	assert.Equal(t, AskPhone, res.Message)
	assert.Equal(t, domain.AwaitingPhone, st.Awaiting)
	assert.Equal(t, 2, st.Attempts)

	res, st = h.Handle("333 123 4567", st)
	assert.Equal(t, KindResolved, res.Kind)
	assert.Equal(t, "C1", res.Candidate.ID)
	assert.False(t, st.Active())
}

func TestHandleEscalatesAfterThreeAttempts(t *testing.T) {
	h := newTestHandler()
	_, st := h.Start("Gino", []domain.Candidate{gigio, gino})

	res, st := h.Handle("boh non ricordo", st)
	require.Equal(t, KindAsk, res.Kind)
	assert.Equal(t, RetryBirth, res.Message)
	assert.Equal(t, 2, st.Attempts)

	res, st = h.Handle("non lo so", st)
	require.Equal(t, KindAsk, res.Kind)
	assert.Equal(t, 3, st.Attempts)

	res, st = h.Handle("mah", st)
	assert.Equal(t, KindEscalate, res.Kind)
	assert.False(t, st.Active())
}

func TestHandleFullNameResolves(t *testing.T) {
	h := newTestHandler()
	_, st := h.Start("Gino", []domain.Candidate{gigio, gino})

	res, _ := h.Handle("no guardi, sono Gigio Peruzzi", st)
	assert.Equal(t, KindResolved, res.Kind)
	assert.Equal(t, "C1", res.Candidate.ID)
}

func TestSamePhone(t *testing.T) {
	assert.True(t, samePhone("+39 333 1234567", "3331234567"))
	assert.True(t, samePhone("0039 3331234567", "3331234567"))
	assert.False(t, samePhone("", "3331234567"))
	assert.False(t, samePhone("3331234568", "3331234567"))
}
