package main

import (
	"fmt"
	"math"
	"strconv"

	"github.com/spf13/cobra"

	"stepcore/movement/kinematics"
)

var kinematicsCmd = &cobra.Command{
	Use:   "kinematics X Y Z",
	Short: "Convert a position to motor steps and back",
	Args:  cobra.ExactArgs(3),
	RunE:  runKinematics,
}

func init() {
	rootCmd.AddCommand(kinematicsCmd)
}

func runKinematics(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	kin, err := cfg.BuildKinematics()
	if err != nil {
		return err
	}

	var pos [kinematics.NumAxes]float64
	for i, arg := range args {
		if pos[i], err = strconv.ParseFloat(arg, 64); err != nil {
			return fmt.Errorf("bad coordinate %q: %w", arg, err)
		}
	}

	mc, err := cfg.Movement()
	if err != nil {
		return err
	}
	spm := make([]float64, kinematics.NumAxes)
	for i := range spm {
		spm[i] = mc.Drivers[i].StepsPerMM
	}

	steps := make([]int32, kinematics.NumAxes)
	if err := kin.CartesianToMotorSteps(pos[:], spm, steps); err != nil {
		return err
	}
	back := make([]float64, kinematics.NumAxes)
	kin.MotorStepsToCartesian(steps, spm, back)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Kinematics: %s\n", kin.GetName())
	fmt.Fprintf(out, "Steps:      %v\n", steps)
	fmt.Fprintf(out, "Position:   [%.4f %.4f %.4f]\n", back[0], back[1], back[2])
	var worst float64
	for i := range back {
		worst = math.Max(worst, math.Abs(back[i]-pos[i]))
	}
	fmt.Fprintf(out, "Round trip: %.4f mm\n", worst)
	return nil
}
