package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	interfaces "github.com/sheikh-saqib/quantum-bank-ledger/internal/interfaces"
	"github.com/sheikh-saqib/quantum-bank-ledger/internal/models"
)

const DemoUsername = "demo"

type seedPosting struct {
	kind         models.TransactionKind
	amount       string
	description  string
	counterparty string
}

type seedCard struct {
	kind   string
	masked string
	expiry string
}

type seedAccount struct {
	kind     models.AccountKind
	number   string
	opening  string
	postings []seedPosting
	cards    []seedCard
}

// Every account gets an opening posting first so the sample history ends at
// the advertised balance and still reconciles.
var demoAccounts = []seedAccount{
	{
		kind:    models.AccountChecking,
		number:  "QB-CHK-100001",
		opening: "4680.69",
		postings: []seedPosting{
			{models.KindDeposit, "1500.00", "Payroll Deposit", "Acme Corp"},
			{models.KindWithdrawal, "-45.20", "Coffee Shop", "Blue Bottle Coffee"},
			{models.KindWithdrawal, "-125.00", "Grocery Shopping", "Whole Foods"},
			{models.KindWithdrawal, "-89.99", "Online Purchase", "Amazon"},
			{models.KindTransfer, "-500.00", "Transfer to Savings", "Savings Account"},
		},
		cards: []seedCard{{"debit", "**** **** **** 1234", "12/2026"}},
	},
	{
		kind:    models.AccountSavings,
		number:  "QB-SAV-200001",
		opening: "7325.00",
		postings: []seedPosting{
			{models.KindDeposit, "5000.00", "Initial Deposit", "Self"},
			{models.KindTransfer, "500.00", "Transfer from Checking", "Checking Account"},
			{models.KindInterest, "25.75", "Monthly Interest", "Quantum Bank"},
		},
	},
	{
		kind:    models.AccountCredit,
		number:  "QB-CC-300001",
		opening: "-809.72",
		postings: []seedPosting{
			{models.KindCharge, "-234.50", "Restaurant", "Chez Pierre"},
			{models.KindCharge, "-89.99", "Gas Station", "Shell"},
			{models.KindCharge, "-599.99", "Electronics", "Best Buy"},
			{models.KindPayment, "500.00", "Credit Card Payment", "Online Payment"},
		},
		cards: []seedCard{{"credit", "**** **** **** 5678", "09/2027"}},
	},
}

// Poster records one posting against an account. *ledger.Ledger is the
// production implementation.
type Poster interface {
	PostTransaction(ctx context.Context, tx models.Transaction) (models.Transaction, error)
}

// Seed provisions the demo user with its accounts, history and cards. Records
// are created in store and postings go through poster. It does nothing when
// the demo user already exists.
func Seed(ctx context.Context, store interfaces.LedgerStore, poster Poster, logger *zap.Logger) error {
	_, err := store.GetUserByUsername(ctx, DemoUsername)
	if err == nil {
		logger.Info("demo data already present")
		return nil
	}
	if !errors.Is(err, models.ErrUserNotFound) {
		return fmt.Errorf("look up demo user: %w", err)
	}

	user, err := store.CreateUser(ctx, models.User{
		Username: DemoUsername,
		Email:    "demo@quantumbank.com",
		FullName: "Demo User",
	})
	if err != nil {
		return fmt.Errorf("create demo user: %w", err)
	}

	for _, acct := range demoAccounts {
		if err := seedOne(ctx, store, poster, user.ID, acct); err != nil {
			return err
		}
	}

	logger.Info("demo data seeded", zap.Int64("user_id", user.ID), zap.Int("accounts", len(demoAccounts)))
	return nil
}

func seedOne(ctx context.Context, store interfaces.LedgerStore, poster Poster, userID int64, acct seedAccount) error {
	account, err := store.CreateAccount(ctx, models.Account{
		UserID:        userID,
		Kind:          acct.kind,
		AccountNumber: acct.number,
	})
	if err != nil {
		return fmt.Errorf("create account %s: %w", acct.number, err)
	}

	postings := append([]seedPosting{{models.KindDeposit, acct.opening, "Opening balance", "Quantum Bank"}}, acct.postings...)
	for _, p := range postings {
		_, err := poster.PostTransaction(ctx, models.Transaction{
			AccountID:    account.ID,
			Kind:         p.kind,
			Amount:       decimal.RequireFromString(p.amount),
			Description:  p.description,
			Counterparty: p.counterparty,
			Status:       models.StatusCompleted,
		})
		if err != nil {
			return fmt.Errorf("post %q to %s: %w", p.description, acct.number, err)
		}
	}

	for _, c := range acct.cards {
		_, err := store.CreateCard(ctx, models.Card{
			AccountID:    account.ID,
			Kind:         c.kind,
			MaskedNumber: c.masked,
			ExpiryDate:   c.expiry,
		})
		if err != nil {
			return fmt.Errorf("create card for %s: %w", acct.number, err)
		}
	}
	return nil
}
