package loan

import (
	"time"

	"github.com/shopspring/decimal"
)

// Penalty days use a 30-day month: dailyRate = annualRate / 100 / 30.
var penaltyDivisor = decimal.NewFromInt(100 * 30)

var hundred = decimal.NewFromInt(100)

// CalculatePenalty returns the late-payment penalty for one installment.
// Non-positive overdueDays yield zero. The result is not capped.
func CalculatePenalty(installmentAmount decimal.Decimal, overdueDays int, annualPenaltyRatePercent decimal.Decimal) decimal.Decimal {
	if overdueDays <= 0 || !installmentAmount.IsPositive() || !annualPenaltyRatePercent.IsPositive() {
		return decimal.Zero
	}
	return installmentAmount.
		Mul(annualPenaltyRatePercent).
		Mul(decimal.NewFromInt(int64(overdueDays))).
		Div(penaltyDivisor).
		Round(2)
}

// installmentPenalty is the penalty due on one unpaid installment at now.
// Days within the grace period are not charged and the result is capped at
// MaxPenaltyPercent of the installment amount when that percentage is set.
func installmentPenalty(inst Installment, policy Policy, now time.Time) decimal.Decimal {
	chargeable := daysLate(inst.DueDate, now) - policy.GraceDays
	p := CalculatePenalty(inst.Amount, chargeable, policy.AnnualPenaltyRate)
	if policy.MaxPenaltyPercent.IsPositive() {
		limit := inst.Amount.Mul(policy.MaxPenaltyPercent).Div(hundred).Round(2)
		p = decimal.Min(p, limit)
	}
	return decimal.Max(p, inst.Penalty)
}

// AccruedPenalty returns the total penalty owed on the plan at now: the
// settled penalty of paid installments plus the current penalty of unpaid ones.
func AccruedPenalty(plan []Installment, policy Policy, now time.Time) decimal.Decimal {
	total := decimal.Zero
	for _, inst := range plan {
		if inst.Paid {
			total = total.Add(inst.Penalty)
			continue
		}
		total = total.Add(installmentPenalty(inst, policy, now))
	}
	return total
}

// ChargePenalties records the current penalty on every unpaid installment
// and returns the plan total. Paid installments keep what they were charged.
func ChargePenalties(plan []Installment, policy Policy, now time.Time) decimal.Decimal {
	total := decimal.Zero
	for i := range plan {
		inst := &plan[i]
		if !inst.Paid {
			inst.Penalty = installmentPenalty(*inst, policy, now)
		}
		total = total.Add(inst.Penalty)
	}
	return total
}
