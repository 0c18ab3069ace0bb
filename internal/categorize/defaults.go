package categorize

// DefaultRules returns the built-in tables used when no rules file is configured.
func DefaultRules() *Engine {
	return &Engine{
		Subcontractors: Table{
			Name: "subcontractors",
			Rules: []Rule{
				Contains("all-pro plumbing", "Plumbing"),
				Contains("j&l electric", "Electrical"),
				Contains("sal's drywall", "Drywall & Paint"),
				Contains("creative landscape", "Landscaping"),
				Contains("best quality roofing", "Roofing"),
				Contains("a-1 painting", "Drywall & Paint"),
				Contains("precision framing", "Framing"),
				Contains("elite concrete", "Concrete & Foundation"),
				Contains("custom cabinetry", "Cabinets & Millwork"),
				Contains("total home insulation", "Insulation"),
				Contains("flores tile & stone", "Flooring & Tile"),
				Contains("window world", "Windows & Doors"),
			},
		},
		Vendors: Table{
			Name: "vendors",
			Rules: []Rule{
				Contains("home depot", "Materials"),
				Contains("lowe's", "Materials"),
				Contains("lowes", "Materials"),
				Contains("sherwin-williams", "Materials"),
				Contains("sunbelt", "Equipment Rental"),
				Contains("united rentals", "Equipment Rental"),
				Word("chevron", "Fuel"),
				Word("shell", "Fuel"),
				Word("76", "Fuel"),
			},
		},
		PaymentMethods: Table{
			Name: "payment_methods",
			Rules: []Rule{
				Contains("quickbooks", "QuickBooks Bill Pay"),
				Contains("intuit", "QuickBooks Bill Pay"),
				Contains("zelle", "Zelle Payment"),
				Contains("check #", "Subcontractor Payout"),
			},
		},
		Projects: Table{
			Name: "projects",
			Rules: []Rule{
				Word("bellevue", "Bellevue"),
				Word("kirkland", "Kirkland"),
				Word("redmond", "Redmond"),
				Contains("mercer island", "Mercer Island"),
			},
		},
		FallbackCategory: FallbackCategory,
		FallbackProject:  FallbackProject,
	}
}
