package ledger

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// ParticipantKind selects how a participant resolves to an account.
type ParticipantKind string

const (
	ParticipantKindUser    ParticipantKind = "user"
	ParticipantKindSystem  ParticipantKind = "system"
	ParticipantKindAccount ParticipantKind = "account"
)

// Participant is a transaction line expressed in caller terms. Only the field
// matching Kind is meaningful.
type Participant struct {
	Kind       ParticipantKind
	UserID     UserID
	SystemName SystemAccountName
	AccountID  AccountID
	Amount     int64
}

// NewUserParticipant references the account owned by a user.
func NewUserParticipant(userID UserID, amount int64) Participant {
	return Participant{Kind: ParticipantKindUser, UserID: userID, Amount: amount}
}

// NewSystemParticipant references a named system account.
func NewSystemParticipant(name SystemAccountName, amount int64) Participant {
	return Participant{Kind: ParticipantKindSystem, SystemName: name, Amount: amount}
}

// NewAccountParticipant references an account directly.
func NewAccountParticipant(accountID AccountID, amount int64) Participant {
	return Participant{Kind: ParticipantKindAccount, AccountID: accountID, Amount: amount}
}

// ResolvedParticipants pairs posting entries with the participant behind each account.
type ResolvedParticipants struct {
	Entries      []EntryInput
	Participants []Participant
	Mapping      map[AccountID]Participant
}

// ParticipantFor returns the participant behind a posted entry. The participant at the
// same position wins while it still names the entry's account; the mapping is the fallback.
func (resolved ResolvedParticipants) ParticipantFor(index int, entry PostedEntry) (Participant, bool) {
	if index < len(resolved.Participants) && index < len(resolved.Entries) && resolved.Entries[index].AccountID == entry.AccountID {
		return resolved.Participants[index], true
	}
	participant, found := resolved.Mapping[entry.AccountID]
	return participant, found
}

// ResolveParticipants maps every participant to an existing account concurrently.
// Missing accounts fail with ErrAccountNotFound; nothing is created here.
func (service *Service) ResolveParticipants(ctx context.Context, participants []Participant) (ResolvedParticipants, error) {
	accountIDs := make([]AccountID, len(participants))
	group, groupContext := errgroup.WithContext(ctx)
	for index, participant := range participants {
		index, participant := index, participant
		group.Go(func() error {
			accountID, err := service.resolveParticipant(groupContext, participant)
			if err != nil {
				return err
			}
			accountIDs[index] = accountID
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return ResolvedParticipants{}, err
	}

	resolved := ResolvedParticipants{
		Entries:      make([]EntryInput, 0, len(participants)),
		Participants: append([]Participant(nil), participants...),
		Mapping:      make(map[AccountID]Participant, len(participants)),
	}
	for index, participant := range participants {
		resolved.Entries = append(resolved.Entries, EntryInput{AccountID: accountIDs[index], Amount: participant.Amount})
		resolved.Mapping[accountIDs[index]] = participant
	}
	return resolved, nil
}

func (service *Service) resolveParticipant(ctx context.Context, participant Participant) (AccountID, error) {
	switch participant.Kind {
	case ParticipantKindAccount:
		account, err := service.GetAccount(ctx, participant.AccountID)
		if err != nil {
			return 0, err
		}
		return account.ID, nil
	case ParticipantKindUser:
		account, err := service.GetUserAccount(ctx, participant.UserID)
		if err != nil {
			return 0, err
		}
		return account.ID, nil
	case ParticipantKindSystem:
		account, err := service.GetSystemAccount(ctx, participant.SystemName)
		if err != nil {
			return 0, err
		}
		return account.ID, nil
	default:
		return 0, fmt.Errorf("%w: unknown kind %q", ErrInvalidParticipant, participant.Kind)
	}
}
