// Package export writes search results to XLSX workbooks.
package export

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"github.com/lawnchairsociety/rpsbalance/internal/archetype"
	"github.com/lawnchairsociety/rpsbalance/internal/combat"
	"github.com/lawnchairsociety/rpsbalance/internal/cycle"
	"github.com/lawnchairsociety/rpsbalance/internal/search"
)

// Sheet names.
const (
	TriplesSheet = "Triples"
	BattlesSheet = "Battles"
)

// Battle is one resolved matchup with its health log.
type Battle struct {
	Triple     int // 1-based index into the exported discoveries
	Attacker   string
	Defender   string
	Result     combat.BattleResult
	Trajectory combat.HealthTrajectory
}

// CycleBattles replays the three cycle battles of t for the Battles sheet.
func CycleBattles(index int, v *cycle.Validator, t archetype.Triple) []Battle {
	rep := v.Validate(t.Offense, t.Balanced, t.Tank)
	pairs := [3][2]string{
		cycle.OffenseVsTank:     {t.Offense.Name, t.Tank.Name},
		cycle.TankVsBalanced:    {t.Tank.Name, t.Balanced.Name},
		cycle.BalancedVsOffense: {t.Balanced.Name, t.Offense.Name},
	}

	battles := make([]Battle, 0, 3)
	for i, p := range pairs {
		battles = append(battles, Battle{
			Triple:     index,
			Attacker:   p[0],
			Defender:   p[1],
			Result:     combat.BattleResult{Winner: rep.Winners[i], Rounds: rep.Rounds[i]},
			Trajectory: rep.Trajectories[i],
		})
	}
	return battles
}

var (
	triplesHeader = []any{"Triple", "Archetype", "ATK", "DEF", "REV", "HP", "SPD", "Score", "Rounds O>T", "Rounds T>B", "Rounds B>O"}
	battlesHeader = []any{"Triple", "Matchup", "Winner", "Round", "HP A", "HP B"}
)

// Workbook builds the workbook in memory. The caller closes it.
func Workbook(discoveries []search.Discovery, battles []Battle) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", TriplesSheet); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.NewSheet(BattlesSheet); err != nil {
		f.Close()
		return nil, err
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		f.Close()
		return nil, err
	}

	if err := writeTriples(f, discoveries, headerStyle); err != nil {
		f.Close()
		return nil, err
	}
	if err := writeBattles(f, battles, headerStyle); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func writeTriples(f *excelize.File, discoveries []search.Discovery, headerStyle int) error {
	if err := writeHeader(f, TriplesSheet, triplesHeader, headerStyle); err != nil {
		return err
	}

	row := 2
	for i, d := range discoveries {
		for _, b := range d.Triple.Builds() {
			values := []any{i + 1, b.Name, b.Atk, b.Defense, b.Revenge, b.HP, b.Spd,
				d.Score, d.Rounds[0], d.Rounds[1], d.Rounds[2]}
			if err := setRow(f, TriplesSheet, row, values); err != nil {
				return err
			}
			row++
		}
	}

	return f.SetColWidth(TriplesSheet, "B", "B", 14)
}

func writeBattles(f *excelize.File, battles []Battle, headerStyle int) error {
	if err := writeHeader(f, BattlesSheet, battlesHeader, headerStyle); err != nil {
		return err
	}

	row := 2
	for _, b := range battles {
		matchup := fmt.Sprintf("%s vs %s", b.Attacker, b.Defender)
		winner := b.Result.Winner
		if b.Result.Draw() {
			winner = "Draw"
		}
		for round, snap := range b.Trajectory {
			if err := setRow(f, BattlesSheet, row, []any{b.Triple, matchup, winner, round, snap.A, snap.B}); err != nil {
				return err
			}
			row++
		}
	}

	return f.SetColWidth(BattlesSheet, "B", "B", 22)
}

func writeHeader(f *excelize.File, sheet string, header []any, style int) error {
	if err := setRow(f, sheet, 1, header); err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(len(header), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last, style); err != nil {
		return err
	}
	return f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
}

func setRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}

// WriteXLSX writes discoveries and battles to path, creating parent
// directories as needed.
func WriteXLSX(path string, discoveries []search.Discovery, battles []Battle) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create export directory: %w", err)
		}
	}

	f, err := Workbook(discoveries, battles)
	if err != nil {
		return fmt.Errorf("build workbook: %w", err)
	}
	defer f.Close()

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}
