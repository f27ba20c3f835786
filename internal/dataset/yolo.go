package dataset

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Annotation is one YOLO bounding box: class id plus normalized center and size.
type Annotation struct {
	ClassID int
	X, Y    float64
	W, H    float64
}

// ParseLabelLine parses a YOLO label line ("class x y w h"). It returns the
// first problem found when the line is malformed or out of range.
func ParseLabelLine(line string) (Annotation, error) {
	a, problems := checkLabelLine(line)
	if len(problems) > 0 {
		return a, errors.New(problems[0])
	}
	return a, nil
}

// checkLabelLine parses line and reports every problem with it.
func checkLabelLine(line string) (Annotation, []string) {
	var a Annotation
	parts := strings.Fields(line)
	if len(parts) != 5 {
		return a, []string{fmt.Sprintf("expected 5 values, got %d", len(parts))}
	}

	id, err := strconv.Atoi(parts[0])
	if err != nil {
		return a, []string{fmt.Sprintf("parse error: invalid class id %q", parts[0])}
	}
	var coords [4]float64
	for i, p := range parts[1:] {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return a, []string{fmt.Sprintf("parse error: invalid number %q", p)}
		}
		coords[i] = v
	}
	a = Annotation{ClassID: id, X: coords[0], Y: coords[1], W: coords[2], H: coords[3]}

	var problems []string
	if !(a.X >= 0 && a.X <= 1 && a.Y >= 0 && a.Y <= 1) {
		problems = append(problems, fmt.Sprintf("center (%.3f, %.3f) out of [0,1] range", a.X, a.Y))
	}
	if !(a.W > 0 && a.W <= 1 && a.H > 0 && a.H <= 1) {
		problems = append(problems, fmt.Sprintf("size (%.3f, %.3f) out of (0,1] range", a.W, a.H))
	}
	if a.ClassID < 0 {
		problems = append(problems, fmt.Sprintf("negative class id: %d", a.ClassID))
	}
	return a, problems
}

// ClassKey identifies the stratification group of an image. Images whose
// first label line is empty or unparseable share the unknown group.
type ClassKey struct {
	ID    int
	Known bool
}

// UnknownClass is the group for images without a usable first label line.
var UnknownClass = ClassKey{}

func (k ClassKey) String() string {
	if !k.Known {
		return "unknown"
	}
	return fmt.Sprintf("class %d", k.ID)
}

// less orders known classes by id, with the unknown group last.
func (k ClassKey) less(o ClassKey) bool {
	if k.Known != o.Known {
		return k.Known
	}
	return k.ID < o.ID
}

// firstLine returns the first line of the file at path, trimmed.
func firstLine(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if sc.Scan() {
		return strings.TrimSpace(sc.Text()), nil
	}
	return "", sc.Err()
}

// primaryClass returns the class of the first annotation in a label file.
func primaryClass(labelPath string) ClassKey {
	line, err := firstLine(labelPath)
	if err != nil || line == "" {
		return UnknownClass
	}
	id, err := strconv.Atoi(strings.Fields(line)[0])
	if err != nil {
		return UnknownClass
	}
	return ClassKey{ID: id, Known: true}
}
