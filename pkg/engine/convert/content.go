package convert

import (
	"bytes"
	"strconv"
	"unicode"

	"github.com/pkg/errors"

	"github.com/ConRes/conres.io-sub001/pkg/engine/colorspace"
	"github.com/ConRes/conres.io-sub001/pkg/engine/engineerr"
)

// token is one lexical unit of a content stream, with its exact byte span in
// the source so untouched regions (including the whitespace between tokens)
// can be copied through verbatim.
type token struct {
	text       string
	start, end int
	isOperator bool
}

func isDelim(b byte) bool {
	switch b {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return unicode.IsSpace(rune(b))
}

// scanTokens splits content into operand/operator tokens. Strings, hex
// strings, arrays, dicts, and inline-image BI..EI blocks are each captured as
// a single opaque token; the converter never looks inside them.
func scanTokens(content []byte) ([]token, error) {
	var toks []token
	i, n := 0, len(content)

	for i < n {
		for i < n && unicode.IsSpace(rune(content[i])) {
			i++
		}
		if i >= n {
			break
		}
		start := i

		switch content[i] {
		case '%':
			for i < n && content[i] != '\n' && content[i] != '\r' {
				i++
			}
			continue // comments are skipped, not tokenized; preserved via the gap copy

		case '(':
			depth := 0
			for i < n {
				switch content[i] {
				case '\\':
					i++
				case '(':
					depth++
				case ')':
					depth--
					if depth == 0 {
						i++
						goto stringDone
					}
				}
				i++
			}
			return nil, errors.Wrap(engineerr.ErrInvalidArgument, "content: unterminated string literal")
		stringDone:
			toks = append(toks, token{text: string(content[start:i]), start: start, end: i})
			continue

		case '<':
			if i+1 < n && content[i+1] == '<' {
				depth := 0
				closed := false
				for i < n && !closed {
					switch {
					case bytes.HasPrefix(content[i:], []byte("<<")):
						depth++
						i += 2
					case bytes.HasPrefix(content[i:], []byte(">>")):
						depth--
						i += 2
						closed = depth == 0
					default:
						i++
					}
				}
				if !closed {
					return nil, errors.Wrap(engineerr.ErrInvalidArgument, "content: unterminated dict")
				}
			} else {
				for i < n && content[i] != '>' {
					i++
				}
				if i >= n {
					return nil, errors.Wrap(engineerr.ErrInvalidArgument, "content: unterminated hex string")
				}
				i++
			}
			toks = append(toks, token{text: string(content[start:i]), start: start, end: i})
			continue

		case '[':
			depth := 0
			for i < n {
				switch content[i] {
				case '[':
					depth++
				case ']':
					depth--
				case '(':
					// nested string inside array; skip it wholesale
					d := 0
					for i < n {
						if content[i] == '\\' {
							i++
						} else if content[i] == '(' {
							d++
						} else if content[i] == ')' {
							d--
							if d == 0 {
								break
							}
						}
						i++
					}
				}
				i++
				if depth == 0 {
					break
				}
			}
			toks = append(toks, token{text: string(content[start:i]), start: start, end: i})
			continue

		case '/':
			i++
			for i < n && !isDelim(content[i]) {
				i++
			}
			toks = append(toks, token{text: string(content[start:i]), start: start, end: i})
			continue
		}

		// Bare token: number or operator keyword, up to the next delimiter.
		for i < n && !isDelim(content[i]) {
			i++
		}
		text := string(content[start:i])
		if text == "BI" {
			end, err := skipInlineImage(content, start)
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{text: string(content[start:end]), start: start, end: end})
			i = end
			continue
		}
		toks = append(toks, token{text: text, start: start, end: i, isOperator: !isNumeric(text)})
	}

	return toks, nil
}

func skipInlineImage(content []byte, start int) (int, error) {
	idx := bytes.Index(content[start:], []byte("EI"))
	if idx < 0 {
		return 0, errors.Wrap(engineerr.ErrInvalidArgument, "content: unterminated inline image (BI without EI)")
	}
	return start + idx + 2, nil
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

// colorOperatorArity gives, for a color-setting content-stream operator,
// the family its operands are interpreted under and how many operands it
// takes (§4.5).
type colorOperatorArity struct {
	family   colorspace.Family
	operands int
}

var fillStrokeOperators = map[string]colorOperatorArity{
	"g":  {colorspace.FamilyDeviceGray, 1},
	"G":  {colorspace.FamilyDeviceGray, 1},
	"rg": {colorspace.FamilyDeviceRGB, 3},
	"RG": {colorspace.FamilyDeviceRGB, 3},
	"k":  {colorspace.FamilyDeviceCMYK, 4},
	"K":  {colorspace.FamilyDeviceCMYK, 4},
}

// OperandConverter converts n color components from family into the
// destination color space, returning the new component values.
type OperandConverter func(family colorspace.Family, operands []float64) ([]float64, error)

// ContentStreamConverter is the Content-Stream Converter (L4): it rewrites
// color-setting operators in place and passes everything else through
// byte-for-byte (§4.5's round-trip invariant).
type ContentStreamConverter struct {
	convert          OperandConverter
	destResourceName string
}

// NewContentStreamConverter builds a converter. destResourceName is the
// resource-dictionary key (e.g. "/DestICC") that cs/CS operators selecting a
// named color space are rewritten to reference; building the resource dict
// entry itself is the page converter's job.
func NewContentStreamConverter(convert OperandConverter, destResourceName string) *ContentStreamConverter {
	return &ContentStreamConverter{convert: convert, destResourceName: destResourceName}
}

// DestResourceName returns the resource-dictionary key cs/CS rewrites
// target, without any leading slash, for the page converter to install.
func (c *ContentStreamConverter) DestResourceName() string {
	return trimLeadingSlash(c.destResourceName)
}

// Convert rewrites content's color-setting operators and returns the new
// content stream bytes.
func (c *ContentStreamConverter) Convert(content []byte) ([]byte, error) {
	toks, err := scanTokens(content)
	if err != nil {
		return nil, err
	}

	var out bytes.Buffer
	cursor := 0
	operandStart := -1 // index into toks of the first operand of the pending run

	flushGap := func(uptoByte int) {
		out.Write(content[cursor:uptoByte])
		cursor = uptoByte
	}

	for idx, t := range toks {
		if !t.isOperator {
			if operandStart < 0 {
				operandStart = idx
			}
			continue
		}

		var operands []token
		if operandStart >= 0 {
			operands = toks[operandStart:idx]
		}
		rewritten, err := c.rewriteOperator(t.text, operands)
		if err != nil {
			return nil, err
		}
		if rewritten != "" {
			gapEnd := t.end
			if operandStart >= 0 {
				flushGap(toks[operandStart].start)
			} else {
				flushGap(t.start)
			}
			out.WriteString(rewritten)
			cursor = gapEnd
		}

		operandStart = -1
	}
	flushGap(len(content))

	return out.Bytes(), nil
}

// rewriteOperator returns the replacement text for operator op given its
// preceding operand tokens, or "" if the operator should pass through
// unchanged (the caller then leaves the original bytes untouched).
func (c *ContentStreamConverter) rewriteOperator(op string, operands []token) (string, error) {
	if arity, ok := fillStrokeOperators[op]; ok {
		return c.rewriteFixedArity(op, arity, operands)
	}

	switch op {
	case "sc", "SC", "scn", "SCN":
		return c.rewriteSCN(op, operands)
	case "cs", "CS":
		return c.rewriteCS(op, operands)
	default:
		return "", nil
	}
}

func (c *ContentStreamConverter) rewriteFixedArity(op string, arity colorOperatorArity, operands []token) (string, error) {
	if len(operands) != arity.operands {
		// Malformed or unexpected operand count; leave untouched rather than
		// guess at the caller's intent.
		return "", nil
	}
	values, err := parseOperands(operands)
	if err != nil {
		return "", nil
	}
	converted, err := c.convert(arity.family, values)
	if err != nil {
		return "", errors.Wrap(err, "content: operand conversion")
	}
	return formatOperands(converted) + destinationOperator(isStrokeOperator(op), len(converted)), nil
}

func (c *ContentStreamConverter) rewriteSCN(op string, operands []token) (string, error) {
	if len(operands) == 0 {
		return "", nil
	}
	last := operands[len(operands)-1]
	if len(last.text) > 0 && last.text[0] == '/' {
		// Pattern or separation name operand: passthrough, per the
		// passthrough rule for color spaces with no profile.
		return "", nil
	}

	var family colorspace.Family
	switch len(operands) {
	case 1:
		family = colorspace.FamilyDeviceGray
	case 3:
		family = colorspace.FamilyDeviceRGB
	case 4:
		family = colorspace.FamilyDeviceCMYK
	default:
		return "", nil
	}

	values, err := parseOperands(operands)
	if err != nil {
		return "", nil
	}
	converted, err := c.convert(family, values)
	if err != nil {
		return "", errors.Wrap(err, "content: operand conversion")
	}
	return formatOperands(converted) + destinationOperator(isStrokeOperator(op), len(converted)), nil
}

func (c *ContentStreamConverter) rewriteCS(op string, operands []token) (string, error) {
	if len(operands) != 1 {
		return "", nil
	}
	return "/" + trimLeadingSlash(c.destResourceName) + " " + op + "\n", nil
}

// OperandConverterFor builds an OperandConverter backed by a BufferConverter:
// content-stream operands are normalized [0,1] floats, not image bytes, so
// each call round-trips a single pixel through the 16-bit engine path (more
// than enough precision for operand-sized color math) rather than reusing
// the 8-bit image pipeline directly.
func OperandConverterFor(bc *BufferConverter, opts ImageConvertOptions) OperandConverter {
	return func(family colorspace.Family, operands []float64) ([]float64, error) {
		in := make([]byte, len(operands)*2)
		for i, v := range operands {
			u := uint16(clampUnit(v) * 65535.0)
			in[2*i] = byte(u >> 8)
			in[2*i+1] = byte(u)
		}

		result, err := bc.Convert(in, Options{
			InputColorSpace:        colorspace.Descriptor{Family: family},
			OutputColorSpace:       colorspace.Descriptor{Family: opts.DestinationFamily, ProfileRef: opts.DestinationProfileRef},
			InputBitsPerComponent:  16,
			OutputBitsPerComponent: 16,
			InputEndian:            colorspace.EndiannessBig,
			OutputEndian:           colorspace.EndiannessBig,
			Intent:                 opts.Intent,
			BPCEnabled:             opts.BPCEnabled,
			IntermediateProfiles:   opts.IntermediateProfiles,
			Category:               colorspace.CategoryContentStream,
		})
		if err != nil {
			return nil, err
		}

		out := make([]float64, result.OutputChannels)
		for i := range out {
			u := uint16(result.OutputBuf[2*i])<<8 | uint16(result.OutputBuf[2*i+1])
			out[i] = float64(u) / 65535.0
		}
		return out, nil
	}
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func trimLeadingSlash(s string) string {
	if len(s) > 0 && s[0] == '/' {
		return s[1:]
	}
	return s
}

// destinationOperator maps a fill/stroke flag to the operator for n output
// components (n is always 1, 3, or 4 once the engine has a concrete
// destination family).
func destinationOperator(stroke bool, n int) string {
	switch n {
	case 1:
		if stroke {
			return "G"
		}
		return "g"
	case 3:
		if stroke {
			return "RG"
		}
		return "rg"
	default:
		if stroke {
			return "K"
		}
		return "k"
	}
}

// isStrokeOperator reports whether op sets the stroke (as opposed to fill)
// color: PDF's convention is that the stroke operator is the uppercase form
// of its fill/stroke pair (g/G, rg/RG, k/K, sc/SC, scn/SCN).
func isStrokeOperator(op string) bool {
	switch op {
	case "G", "RG", "K", "SC", "SCN":
		return true
	default:
		return false
	}
}

func parseOperands(toks []token) ([]float64, error) {
	values := make([]float64, len(toks))
	for i, t := range toks {
		v, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return values, nil
}

func formatOperands(values []float64) string {
	var b bytes.Buffer
	for _, v := range values {
		b.WriteString(strconv.FormatFloat(v, 'f', 5, 64))
		b.WriteByte(' ')
	}
	return b.String()
}
